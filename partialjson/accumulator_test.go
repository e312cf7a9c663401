package partialjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_FragmentsMatchWholeParse(t *testing.T) {
	docs := []string{
		`{"a":1,"b":"xyz"}`,
		`{"nested":{"list":[1,2,3],"flag":true},"s":"hi"}`,
		`{"unicode":"snow ☃ man","esc":"a\"b\\c"}`,
		`{"empty":{},"list":[],"null":null}`,
		`{"num":-12.5e3}`,
	}

	for _, doc := range docs {
		// Feed one byte at a time; the accumulated result must match a
		// direct parse of the whole document.
		var acc Accumulator
		for i := 0; i < len(doc); i++ {
			acc.Feed(doc[i : i+1])
		}
		got, err := acc.Finalize()
		require.NoError(t, err, "doc: %s", doc)

		var want any
		require.NoError(t, json.Unmarshal([]byte(doc), &want))
		assert.Equal(t, want, got, "doc: %s", doc)
	}
}

func TestAccumulator_TryParseNeverFailsOnPrefixes(t *testing.T) {
	doc := `{"a":1,"b":"x\"y","deep":{"list":[true,null,1.5],"k":"v"}}`

	var acc Accumulator
	for i := 0; i < len(doc); i++ {
		acc.Feed(doc[i : i+1])
		v, ok := acc.TryParse()
		if ok {
			// Any reported value must at least be a JSON object here.
			_, isObj := v.(map[string]any)
			assert.True(t, isObj, "prefix: %s", doc[:i+1])
		}
	}

	v, ok := acc.TryParse()
	require.True(t, ok)
	assert.Equal(t, float64(1), v.(map[string]any)["a"])
}

func TestAccumulator_SpecExample(t *testing.T) {
	var acc Accumulator
	acc.Feed(`{"a":1,"b":"x`)

	v, ok := acc.TryParse()
	require.True(t, ok)
	obj := v.(map[string]any)
	assert.Equal(t, float64(1), obj["a"])
	if b, present := obj["b"]; present {
		// Truncated string values are acceptable mid-stream.
		assert.Equal(t, "x", b)
	}

	acc.Feed(`yz"}`)
	final, err := acc.FinalizeObject()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "xyz"}, final)
}

func TestAccumulator_MidEscapeReturnsNoValue(t *testing.T) {
	var acc Accumulator
	acc.Feed(`{"s":"a\`)
	_, ok := acc.TryParse()
	assert.False(t, ok)
}

func TestAccumulator_DanglingKeyReturnsNoValue(t *testing.T) {
	var acc Accumulator
	acc.Feed(`{"status":`)
	_, ok := acc.TryParse()
	assert.False(t, ok)
}

func TestAccumulator_FinalizeStrict(t *testing.T) {
	var acc Accumulator
	acc.Feed(`{"a":1`)
	_, err := acc.Finalize()
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestAccumulator_EmptyBufferFinalizesToEmptyObject(t *testing.T) {
	var acc Accumulator
	obj, err := acc.FinalizeObject()
	require.NoError(t, err)
	assert.Empty(t, obj)
}

func TestAccumulator_FinalizeObjectRejectsNonObject(t *testing.T) {
	var acc Accumulator
	acc.Feed(`[1,2,3]`)
	_, err := acc.FinalizeObject()
	require.Error(t, err)
}
