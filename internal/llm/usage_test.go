package llm

import (
	"encoding/json"
	"testing"
)

func TestUsageAdd(t *testing.T) {
	a := Usage{Input: 10, Output: 5, Total: 15}
	b := Usage{Input: 2, Output: 3, Total: 5}
	got := a.Add(b)
	if got.Input != 12 || got.Output != 8 || got.Total != 20 {
		t.Fatalf("sum = %+v", got)
	}
	// Add is value-returning; the receiver is untouched.
	if a.Total != 15 {
		t.Fatalf("receiver mutated: %+v", a)
	}
}

func TestUsageIsZero(t *testing.T) {
	if !(Usage{}).IsZero() {
		t.Fatal("zero value should be zero")
	}
	if (Usage{Total: 1}).IsZero() {
		t.Fatal("non-zero total should not be zero")
	}
	if (Usage{Input: 1}).IsZero() {
		t.Fatal("non-zero input should not be zero")
	}
}

func TestNormalizeUsage(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want Usage
	}{
		{
			"canonical names",
			map[string]any{"input": 10.0, "output": 5.0, "total": 15.0},
			Usage{Input: 10, Output: 5, Total: 15},
		},
		{
			"openai snake case",
			map[string]any{"prompt_tokens": 7.0, "completion_tokens": 3.0, "total_tokens": 10.0},
			Usage{Input: 7, Output: 3, Total: 10},
		},
		{
			"camel case",
			map[string]any{"inputTokens": 4.0, "outputTokens": 6.0, "totalTokens": 10.0},
			Usage{Input: 4, Output: 6, Total: 10},
		},
		{
			"missing total derived",
			map[string]any{"input_tokens": 8.0, "output_tokens": 2.0},
			Usage{Input: 8, Output: 2, Total: 10},
		},
		{
			"json number",
			map[string]any{"input": json.Number("3"), "output": json.Number("4")},
			Usage{Input: 3, Output: 4, Total: 7},
		},
		{
			"non-numeric values ignored",
			map[string]any{"input": "lots", "output": 5.0},
			Usage{Output: 5, Total: 5},
		},
		{
			"empty",
			map[string]any{},
			Usage{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeUsage(tc.raw); got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
