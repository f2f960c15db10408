package schema_test

import (
	"testing"
	"testing/fstest"

	"github.com/relabs-tech/granja/core/schema"
)

const (
	ref1 = `{ "type" : "string" ,
		      "$id" : "http://some_host.com/string.json"}`
	ref2 = `{ "$id" : "http://some_host.com/maxlength.json",
	 		  "maxLength" : 5 }`

	top_level1 = `
	{ "$id" : "http://some_host.com/top1.json",
	  "allOf" : [
		{ "$ref" : "http://some_host.com/string.json" },
		{ "$ref" : "http://some_host.com/maxlength.json" }
		]
	}`
	top_level2 = `
	{ "$id" : "http://some_host.com/top2.json",
	  "allOf" : [
 		{ "$ref" : "http://some_host.com/string.json" },
 		{ "type": "string", "minlength": 3 }
	  ]
	}`

	record = `
	{ "$id" : "http://some_host.com/record.json",
	  "type": "object",
	  "required": ["nro_animales", "procedencia"],
	  "properties": {
		"nro_animales": { "type": "number", "exclusiveMinimum": 0 },
		"procedencia": { "$ref" : "http://some_host.com/string.json" }
	  }
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{top_level1, top_level2}, []string{ref1, ref2})
	if err != nil {
		t.Fatalf("No error expected when creating validator, got %v", err)
	}

	schemaID1 := "http://some_host.com/top1.json"
	schemaID2 := "http://some_host.com/top2.json"
	jsonShortString := `"short"`
	jsonLongString := `"a very long string"`

	// Valid json
	if err := v.ValidateString(jsonShortString, schemaID1); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonShortString, schemaID1, err)
	}

	// Invalid json
	if err := v.ValidateString(jsonLongString, schemaID1); err == nil {
		t.Fatalf("%s is expected to be invalid with schema %s. Reported error was: %v", jsonLongString, schemaID1, err)
	}

	// Valid json
	if err := v.ValidateString(jsonLongString, schemaID2); err != nil {
		t.Fatalf("%s is expected to be valid with schema %s. Reported error was: %v", jsonLongString, schemaID2, err)
	}

	if err := v.ValidateString(jsonLongString, "http://some_host.com/unknown.json"); err == nil || schema.IsValidationError(err) {
		t.Fatalf("expected a plain error for an unknown schema, got %v", err)
	}
}

func TestFieldErrors(t *testing.T) {
	v, err := schema.NewValidator([]string{record}, []string{ref1})
	if err != nil {
		t.Fatal(err)
	}
	schemaID := "http://some_host.com/record.json"

	err = v.ValidateStruct(map[string]interface{}{"nro_animales": 0}, schemaID)
	if !schema.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := err.(*schema.ValidationError).FieldMap()
	if _, ok := fields["nro_animales"]; !ok {
		t.Fatalf("expected error for nro_animales, got %v", fields)
	}
	if _, ok := fields["procedencia"]; !ok {
		t.Fatalf("expected error for missing procedencia, got %v", fields)
	}

	err = v.ValidateStruct(map[string]interface{}{"nro_animales": 3, "procedencia": "Granja X"}, schemaID)
	if err != nil {
		t.Fatalf("expected valid document, got %v", err)
	}
}

func TestNewValidatorFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"record.json":      {Data: []byte(record)},
		"refs/string.json": {Data: []byte(ref1)},
		"README.md":        {Data: []byte("ignored")},
	}
	v, err := schema.NewValidatorFromFS(fsys)
	if err != nil {
		t.Fatal(err)
	}
	if !v.HasSchema("http://some_host.com/record.json") {
		t.Fatal("expected record schema to be loaded")
	}
	if v.HasSchema("http://some_host.com/string.json") {
		t.Fatal("refs must not be loaded as top level schemas")
	}
}
