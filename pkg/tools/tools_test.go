// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrInput(t *testing.T) {
	inputs := map[string]interface{}{"name": "treadle", "empty": ""}
	assert.Equal(t, "treadle", strInput(inputs, "name", "def"))
	assert.Equal(t, "def", strInput(inputs, "empty", "def"))
	assert.Equal(t, "def", strInput(inputs, "missing", "def"))
}

func TestIntInput_ToleratesModelShapes(t *testing.T) {
	inputs := map[string]interface{}{
		"float":  float64(5),
		"string": " 7 ",
		"junk":   "not a number",
	}
	assert.Equal(t, 5, intInput(inputs, "float", 0))
	assert.Equal(t, 7, intInput(inputs, "string", 0))
	assert.Equal(t, 9, intInput(inputs, "junk", 9))
	assert.Equal(t, 9, intInput(inputs, "missing", 9))
}

func TestBoolInput_AcceptsStringSpellings(t *testing.T) {
	inputs := map[string]interface{}{
		"real": true,
		"yes":  "Yes",
		"off":  "off",
		"junk": "maybe",
	}
	assert.True(t, boolInput(inputs, "real", false))
	assert.True(t, boolInput(inputs, "yes", false))
	assert.False(t, boolInput(inputs, "off", true))
	assert.True(t, boolInput(inputs, "junk", true))
	assert.False(t, boolInput(inputs, "missing", false))
}

func TestCoerceCode(t *testing.T) {
	assert.Equal(t, "print(1)", coerceCode("print(1)"))
	assert.Equal(t, "a\nb", coerceCode([]interface{}{"a", "b"}))
	assert.Equal(t, "x=1", coerceCode(map[string]interface{}{"code": "x=1"}))
	assert.Equal(t, "y=2", coerceCode(map[string]interface{}{"content": "y=2"}))
	assert.Equal(t, "", coerceCode(nil))
}

func TestUnescapeSingleLine(t *testing.T) {
	assert.Equal(t, "a\nb", unescapeSingleLine(`a\nb`))
	// Multi-line code keeps its escape sequences untouched.
	multiline := "import re\nre.sub(r'\\n', '', s)"
	assert.Equal(t, multiline, unescapeSingleLine(multiline))
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]interface{}{"a", " b "}))
	assert.Equal(t, []string{"x", "y"}, stringList("x, y ,"))
	assert.Nil(t, stringList(nil))
}

func TestTruncRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncRunes("héllo", 10))
	assert.Equal(t, "hél", truncRunes("héllo", 3))
}

func TestTruncBytes_NeverSplitsRune(t *testing.T) {
	// "hé" is three bytes; a two-byte cap must back off to "h".
	assert.Equal(t, "h", truncBytes("héllo", 2))
	assert.Equal(t, "héllo", truncBytes("héllo", 100))
}
