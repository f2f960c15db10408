// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// Validator is a utility to validate JSON object against a given schema
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// FieldError is a single violation of a schema, reported for the top level
// property it concerns. Violations of the document itself use the field "(root)".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a document does not satisfy its schema
type ValidationError struct {
	SchemaID string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	err := "the document is not valid :\n"
	for _, f := range e.Fields {
		err += fmt.Sprintf("- %s: %s\n", f.Field, f.Message)
	}
	return err
}

// FieldMap returns the violations as a map from field to message. If a field
// has several violations, the first one is kept.
func (e *ValidationError) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := m[f.Field]; !ok {
			m[f.Field] = f.Message
		}
	}
	return m
}

// NewValidatorFromFS creates a new Validator using schemas from schemaFS. Json files
// from / will be used as toplevel schemas, while json files in /refs/ will be used
// as references. The refs directory is optional.
func NewValidatorFromFS(schemaFS fs.FS) (*Validator, error) {

	readDir := func(dir string) ([]string, error) {
		var strs []string
		files, err := fs.ReadDir(schemaFS, dir)
		if err != nil {
			return nil, fmt.Errorf("cannot read dir %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			fullPath := f.Name()
			if dir != "." {
				fullPath = dir + "/" + f.Name()
			}
			str, err := fs.ReadFile(schemaFS, fullPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s' %w", f.Name(), err)
			}
			strs = append(strs, string(str))
		}
		return strs, nil
	}

	schemasString, err := readDir(".")
	if err != nil {
		return nil, err
	}

	var refsString []string
	if _, err := fs.Stat(schemaFS, "refs"); err == nil {
		refsString, err = readDir("refs")
		if err != nil {
			return nil, err
		}
	}

	return NewValidator(schemasString, refsString)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others. If a reference is mentioned, it can only be in the list of refs
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		sl := gojsonschema.NewSchemaLoader()

		for _, ref := range refs {
			loader := gojsonschema.NewStringLoader(ref)
			err := sl.AddSchemas(loader)
			if err != nil {
				return nil, fmt.Errorf("cannot add ref %s %s", ref, err)
			}
		}
		schema, err := sl.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s %s", s.ID, err)
		}
		validator.schemaValidators[s.ID] = schema
	}

	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateStruct validates the given json as a struct against schemaID. If no error is returned,
// then the passed json is valid. A *ValidationError is returned for invalid documents.
func (v *Validator) ValidateStruct(json interface{}, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(json), schemaID)
}

// ValidateString validates the given json against schemaID. If no error is returned, then the
// passed json is valid. A *ValidationError is returned for invalid documents.
func (v *Validator) ValidateString(json, schemaID string) error {
	return v.validate(gojsonschema.NewStringLoader(json), schemaID)
}

// validate validates the given loader against schemaID. If no error is returned, then the passed json
// is valid
func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) error {

	schema, ok := v.schemaValidators[schemaID]
	if !ok {
		return fmt.Errorf("there is no schema %s ", schemaID)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s %s", schemaID, err)
	}

	if !result.Valid() {
		verr := &ValidationError{SchemaID: schemaID}
		for _, e := range result.Errors() {
			verr.Fields = append(verr.Fields, FieldError{Field: fieldOf(e), Message: e.Description()})
		}
		sort.SliceStable(verr.Fields, func(i, j int) bool { return verr.Fields[i].Field < verr.Fields[j].Field })
		return verr
	}
	return nil
}

// fieldOf returns the top level property a result error is about. For missing
// required properties gojsonschema reports the parent, so we take the property
// from the details instead.
func fieldOf(e gojsonschema.ResultError) string {
	if e.Type() == "required" {
		if p, ok := e.Details()["property"].(string); ok {
			return p
		}
	}
	field := e.Field()
	if i := strings.IndexRune(field, '.'); i > 0 && field != "(root)" {
		field = field[:i]
	}
	return field
}

// IsValidationError returns true if err is a schema violation
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
