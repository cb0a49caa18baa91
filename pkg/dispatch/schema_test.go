// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *JSONSchema {
	return NewObjectSchema("file read inputs", map[string]*JSONSchema{
		"path":      NewStringSchema("file path"),
		"max_bytes": NewNumberSchema("read cap").WithDefault(8192),
	}, []string{"path"})
}

func TestSchema_RoundTrip(t *testing.T) {
	raw, err := testSchema().ToJSON()
	require.NoError(t, err)

	parsed, err := SchemaFromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "object", parsed.Type)
	assert.Contains(t, parsed.Required, "path")
	assert.Equal(t, "string", parsed.Properties["path"].Type)
}

func TestSchema_Normalize(t *testing.T) {
	s := &JSONSchema{Type: "object"}
	s.Normalize()
	assert.NotNil(t, s.Properties, "object types get a properties map")

	inferred := &JSONSchema{Properties: map[string]*JSONSchema{"x": {Type: "string"}}}
	inferred.Normalize()
	assert.Equal(t, "object", inferred.Type)

	enumOnly := &JSONSchema{Enum: []interface{}{"a", "b"}}
	enumOnly.Normalize()
	assert.Equal(t, "string", enumOnly.Type)

	var nilSchema *JSONSchema
	assert.Nil(t, nilSchema.Normalize())
}

func TestValidateInputs(t *testing.T) {
	schema := testSchema()

	assert.Nil(t, ValidateInputs(ActionFSRead, schema, map[string]interface{}{
		"path": "work/a.txt", "max_bytes": 4096,
	}))

	err := ValidateInputs(ActionFSRead, schema, map[string]interface{}{
		"max_bytes": 4096,
	})
	require.NotNil(t, err)
	assert.Equal(t, KindInvalidInput, err.Kind)
	assert.Contains(t, err.Detail, "path")

	err = ValidateInputs(ActionFSRead, schema, map[string]interface{}{
		"path": 42,
	})
	require.NotNil(t, err)
	assert.Equal(t, KindInvalidInput, err.Kind)

	assert.Nil(t, ValidateInputs(ActionFSRead, nil, map[string]interface{}{"anything": true}))
}

func TestNormalizeInputKeys(t *testing.T) {
	schema := testSchema()

	normalized := NormalizeInputKeys(schema, map[string]interface{}{
		"Path":     "a.txt",
		"maxBytes": 1024,
		"extra":    true,
	})
	assert.Equal(t, "a.txt", normalized["path"])
	assert.Equal(t, 1024, normalized["max_bytes"])
	assert.Equal(t, true, normalized["extra"], "unmatched keys pass through")

	assert.Nil(t, NormalizeInputKeys(schema, nil))
}
