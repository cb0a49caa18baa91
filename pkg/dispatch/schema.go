// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package dispatch

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema describes an action's input contract. It follows the JSON
// Schema spec for type definitions; manifests carry the same shape as
// raw JSON.
type JSONSchema struct {
	Type        string                 `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []interface{}          `json:"enum,omitempty"`
	Default     interface{}            `json:"default,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MinLength   *int                   `json:"minLength,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// SchemaFromJSON parses a JSONSchema from raw bytes.
func SchemaFromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// NewObjectSchema creates an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema creates a number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description}
}

// NewBooleanSchema creates a boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "boolean", Description: description}
}

// NewArraySchema creates an array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: "array", Description: description, Items: items}
}

// WithEnum adds enum values to the schema.
func (s *JSONSchema) WithEnum(values ...interface{}) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value interface{}) *JSONSchema {
	s.Default = value
	return s
}

// WithPattern adds a pattern constraint to the schema.
func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

// WithRange adds min/max constraints to the schema.
func (s *JSONSchema) WithRange(min, max *float64) *JSONSchema {
	s.Minimum = min
	s.Maximum = max
	return s
}

// Normalize repairs schemas that strict validators reject: object types
// with nil properties get an empty map, missing types are inferred from
// structure. Genesis-built and MCP-discovered schemas are the usual
// offenders.
func (s *JSONSchema) Normalize() *JSONSchema {
	if s == nil {
		return nil
	}
	if s.Type == "object" {
		if s.Properties == nil {
			s.Properties = make(map[string]*JSONSchema)
		}
		for key, prop := range s.Properties {
			s.Properties[key] = prop.Normalize()
		}
	}
	if s.Type == "array" && s.Items != nil {
		s.Items = s.Items.Normalize()
	}
	if s.Type == "" {
		switch {
		case s.Properties != nil:
			s.Type = "object"
			for key, prop := range s.Properties {
				s.Properties[key] = prop.Normalize()
			}
		case s.Items != nil:
			s.Type = "array"
			s.Items = s.Items.Normalize()
		case len(s.Enum) > 0:
			s.Type = "string"
		}
	}
	return s
}

// ValidateInputs checks inputs against the schema and returns a
// KindInvalidInput error naming every violation. A nil schema means no
// contract, so anything passes.
func ValidateInputs(actionID string, schema *JSONSchema, inputs map[string]interface{}) *Error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema.Normalize())
	if err != nil {
		return nil
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(asMap)
	inputLoader := gojsonschema.NewGoLoader(inputs)

	result, err := gojsonschema.Validate(schemaLoader, inputLoader)
	if err != nil {
		// A malformed schema must not block dispatch; the handler
		// validates its own inputs anyway.
		return nil
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, len(result.Errors()))
	for i, verr := range result.Errors() {
		problems[i] = verr.String()
	}
	return NewError(actionID, KindInvalidInput, strings.Join(problems, "; "))
}

// NormalizeInputKeys maps incoming parameter names onto the schema's
// preferred spelling, so camelCase or PascalCase keys from permissive
// models still land on snake_case properties.
func NormalizeInputKeys(schema *JSONSchema, inputs map[string]interface{}) map[string]interface{} {
	if len(inputs) == 0 || schema == nil || schema.Properties == nil {
		return inputs
	}

	schemaKeys := make(map[string]string, len(schema.Properties))
	for key := range schema.Properties {
		schemaKeys[toLowerUnderscore(key)] = key
	}

	normalized := make(map[string]interface{}, len(inputs))
	for key, value := range inputs {
		if schemaKey, ok := schemaKeys[toLowerUnderscore(key)]; ok {
			normalized[schemaKey] = value
		} else {
			normalized[key] = value
		}
	}
	return normalized
}

// toLowerUnderscore converts any naming convention to lowercase with
// underscores so camelCase, snake_case and PascalCase all compare equal.
func toLowerUnderscore(s string) string {
	if s == "" {
		return ""
	}
	var result []rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '_')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}
