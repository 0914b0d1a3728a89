package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"number", json.Number("42"), "42"},
		{"large number keeps precision", json.Number("9007199254740993"), "9007199254740993"},
		{"float literal", json.Number("1.50"), "1.50"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"simple object", map[string]any{"a": json.Number("1")}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": json.Number("1"),
		"alpha": json.Number("2"),
		"beta":  map[string]any{"y": true, "x": false},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":false,"y":true},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FF61
	// in UTF-16 even though its UTF-8 bytes sort after.
	obj := map[string]any{
		"\uFF61":     json.Number("1"),
		"\U0001F600": json.Number("2"),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFF61\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	result, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"caf\u00e9\"", string(result))
}

func TestMarshalRecordKeepsStringBytes(t *testing.T) {
	obj := map[string]any{"name": "Jose\u0301", "cafe\u0301": "id-e\u0301"}

	result, err := MarshalRecord(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"cafe\u0301\":\"id-e\u0301\",\"name\":\"Jose\u0301\"}", string(result))
}

func TestMarshalRecordSortsKeys(t *testing.T) {
	result, err := MarshalRecord(map[string]any{"b": json.Number("1.50"), "a": []any{"<x>"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["<x>"],"b":1.50}`, string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
}

func TestMarshalCanonicalEscapedBackslashStaysLiteral(t *testing.T) {
	result, err := MarshalCanonical(`a\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(result))
}

func TestMarshalCanonicalStruct(t *testing.T) {
	s := Snapshot{StreamID: "S", Version: 3, Snapshot: json.RawMessage(`{"b": 2, "a": 1}`)}

	result, err := MarshalCanonical(s)
	require.NoError(t, err)
	assert.Equal(t, `{"snapshot":{"a":1,"b":2},"streamId":"S","version":3}`, string(result))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := map[string]any{"k1": "v1", "k2": "v2", "k3": []any{"x", json.Number("3")}}

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCommitRecordGolden(t *testing.T) {
	c := NewCommit("c-1", "master", "orders-1", 2, []Event{
		{ID: "e-1", Type: "OrderPlaced", Data: json.RawMessage(`{"total": 42, "note": "<cafe\u0301>"}`)},
	})
	c.StreamIDCommitSequence = StreamIDCommitSequenceKey(c.StreamID, c.CommitSequence)
	c.AppendDateTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c.Headers = Header{"authoritative": true}

	record, err := MarshalRecord(c)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "commit_record", record)
}
