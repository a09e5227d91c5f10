package harness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"sorted keys", map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"nested", map[string]any{"z": []any{map[string]any{"y": true, "x": nil}}}, `{"z":[{"x":null,"y":true}]}`},
		{"no html escaping", "<a & b>", `"<a & b>"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"integral float", 3.0, `3`},
		{"fraction", 0.25, `0.25`},
		{"int64", int64(-7), `-7`},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"int slice", []int{2, 1}, `[2,1]`},
		{"empty slice", []any{}, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+1F600 sorts after U+FF61 in UTF-8 but before it in UTF-16.
	got, err := MarshalCanonical(map[string]any{"\U0001F600": 1, "\uFF61": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uFF61\":2}", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"ch": make(chan int)})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestTrace_Canonical(t *testing.T) {
	trace := Trace{
		Scenario: "s",
		Calls: []CallTrace{
			{Index: 0, Method: "get", Args: []any{"a"}, Outcome: OutcomeFulfilled, Value: nil},
			{Index: 1, Method: "get", Args: []any{}, Outcome: OutcomeRejected, Error: "boom"},
		},
		StartOrder:   []int{0, 1},
		PeakInFlight: 1,
		Filters:      []FilterTrace{{Name: "f", Tracked: 1, Results: []any{}, Rejections: []string{"boom"}}},
	}

	got, err := trace.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"calls":[{"args":["a"],"index":0,"method":"get","outcome":"fulfilled","value":null},`+
			`{"args":[],"error":"boom","index":1,"method":"get","outcome":"rejected"}],`+
			`"filters":[{"name":"f","rejections":["boom"],"results":[],"tracked":1}],`+
			`"peak_in_flight":1,"scenario":"s","start_order":[0,1]}`,
		string(got))
}
