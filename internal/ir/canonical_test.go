package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "null"},
		{"null", Null{}, "null"},
		{"string", String("map"), `"map"`},
		{"empty string", String(""), `""`},
		{"int", Int(11), "11"},
		{"negative int", Int(-3), "-3"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool", Bool(true), "true"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array", Array{Int(1), String("a"), Null{}}, `[1,"a",null]`},
		{"go map", map[string]any{"zoom": int64(11)}, `{"zoom":11}`},
		{"go slice", []any{"a", true}, `["a",true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zoom":   Int(11),
		"center": Object{"lng": Int(13), "lat": Int(51)},
		"marker": Bool(false),
	}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"center":{"lat":51,"lng":13},"marker":false,"zoom":11}`, string(got))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as the surrogate pair D83D DE00, which sorts before
	// U+FFFD in UTF-16 but after it by code point.
	obj := Object{"\uFFFD": Int(1), "\U0001F600": Int(2)}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFFFD\":1}", string(got))
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"named escapes", "\b\f\n\r\t", `"\b\f\n\r\t"`},
		{"other control", "\x1f", `"\u001f"`},
		{"no html escaping", "<a>&", `"<a>&"`},
		{"line separator literal", "\u2028", "\"\u2028\""},
		{"nfc normalized", "e\u0301", "\"\u00e9\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	inputs := map[string]any{
		"float64":        1.5,
		"float32":        float32(2),
		"float in map":   map[string]any{"zoom": 11.0},
		"unsupported":    struct{}{},
		"nested unknown": map[string]any{"ch": make(chan int)},
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := MarshalCanonical(in)
			assert.Error(t, err)
		})
	}
}
