package domain

import (
	"encoding/json"
	"testing"
)

func TestTokenBlock_DecodeCurrentShape(t *testing.T) {
	var b TokenBlock
	if err := json.Unmarshal([]byte(`{"model":"gpt-4o","input":7,"output":3,"total":10}`), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.Model != "gpt-4o" || b.Input != 7 || b.Output != 3 || b.Total != 10 {
		t.Fatalf("block = %+v", b)
	}
}

func TestTokenBlock_DecodeLegacyFieldNames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want TokenBlock
	}{
		{
			"snake case, total derived",
			`{"model":"gpt-4o","prompt_tokens":7,"completion_tokens":3}`,
			TokenBlock{Model: "gpt-4o", Input: 7, Output: 3, Total: 10},
		},
		{
			"camel case",
			`{"inputTokens":5,"outputTokens":2,"totalTokens":7}`,
			TokenBlock{Input: 5, Output: 2, Total: 7},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var b TokenBlock
			if err := json.Unmarshal([]byte(tc.raw), &b); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if b != tc.want {
				t.Fatalf("block = %+v, want %+v", b, tc.want)
			}
		})
	}
}

func TestAnswerPayload_DecodeLegacyTokens(t *testing.T) {
	stored := []byte(`{"version":"v1","status":"complete","answerText":"a",` +
		`"meta":{"tokens":{"model":"m","prompt_tokens":4,"completion_tokens":1},"rag":{"sources":[]}}}`)
	var p AnswerPayload
	if err := json.Unmarshal(stored, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Meta.Tokens.Input != 4 || p.Meta.Tokens.Output != 1 || p.Meta.Tokens.Total != 5 {
		t.Fatalf("tokens = %+v", p.Meta.Tokens)
	}
}
