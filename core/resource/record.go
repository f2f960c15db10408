// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package resource

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/goccy/go-json"
)

// Record is the raw representation of a record as exchanged with the record store
type Record = map[string]interface{}

// Meta holds the store maintained properties every entity has. Entities embed it.
type Meta struct {
	ID      string `json:"id,omitempty"`
	User    string `json:"user,omitempty"`
	Created string `json:"created,omitempty"`
	Updated string `json:"updated,omitempty"`
}

// the properties which are never written by a client
var storeFields = map[string]bool{
	"id":             true,
	"created":        true,
	"updated":        true,
	"collectionId":   true,
	"collectionName": true,
	"expand":         true,
}

// URLField returns the name of the property which carries the download URL of an
// attachment field
func URLField(field string) string {
	return field + "_url"
}

// toRecord converts an entity into a raw record
func toRecord(v interface{}) (Record, error) {
	j, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	r := Record{}
	if err = json.Unmarshal(j, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// fromRecord converts a raw record into an entity
func fromRecord[T any](r Record) (T, error) {
	var t T
	j, err := json.Marshal(r)
	if err != nil {
		return t, err
	}
	err = json.Unmarshal(j, &t)
	return t, err
}

func copyRecord(r Record) Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// encodeBlobs replaces native list values of blob fields with their JSON encoding,
// which is how the record store keeps them.
func encodeBlobs(r Record, blobs []string) error {
	for _, f := range blobs {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		if _, isString := v.(string); isString {
			continue
		}
		j, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("cannot encode %s: %w", f, err)
		}
		r[f] = string(j)
	}
	return nil
}

// decodeBlobs turns JSON encoded blob fields of a stored record back into native
// values. Empty strings become absent.
func decodeBlobs(r Record, blobs []string) error {
	for _, f := range blobs {
		s, ok := r[f].(string)
		if !ok {
			continue
		}
		if strings.TrimSpace(s) == "" {
			delete(r, f)
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return fmt.Errorf("cannot decode %s: %w", f, err)
		}
		r[f] = v
	}
	return nil
}

// jsonFields returns the JSON property names of a struct type with the kind of their
// values, including those of embedded structs
func jsonFields(t reflect.Type) map[string]reflect.Kind {
	fields := map[string]reflect.Kind{}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if f.Anonymous && name == "" {
			for k, kind := range jsonFields(f.Type) {
				fields[k] = kind
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		fields[name] = ft.Kind()
	}
	return fields
}
