package services

import (
	"context"
	"errors"
	"testing"

	"github.com/datachat-labs/go-datachat-backend/internal/llm"
)

func TestClassifier_YesNo(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{"YES", true},
		{"yes", true},
		{"Yes.", true},
		{"NO", false},
		{"no,", false},
		{"No - this is small talk", false},
	}
	for _, tc := range cases {
		fake := &fakeInvoker{t: t, replies: []fakeReply{{content: tc.reply, usage: llm.Usage{Input: 3, Output: 1, Total: 4}}}}
		c := &Classifier{LLM: fake}
		got, usage := c.Classify(context.Background(), "q")
		if got != tc.want {
			t.Fatalf("Classify with reply %q = %v; want %v", tc.reply, got, tc.want)
		}
		if usage.Total != 4 {
			t.Fatalf("usage not propagated: %+v", usage)
		}
	}
}

func TestClassifier_FailsOpenToData(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		fake := &fakeInvoker{t: t, replies: []fakeReply{{err: errors.New("boom")}}}
		c := &Classifier{LLM: fake}
		if got, _ := c.Classify(context.Background(), "q"); !got {
			t.Fatalf("expected data route on model error")
		}
	})
	t.Run("unparseable reply", func(t *testing.T) {
		fake := &fakeInvoker{t: t, replies: []fakeReply{{content: "I think it depends"}}}
		c := &Classifier{LLM: fake}
		if got, _ := c.Classify(context.Background(), "q"); !got {
			t.Fatalf("expected data route on unparseable reply")
		}
	})
	t.Run("empty reply", func(t *testing.T) {
		fake := &fakeInvoker{t: t, replies: []fakeReply{{content: "   "}}}
		c := &Classifier{LLM: fake}
		if got, _ := c.Classify(context.Background(), "q"); !got {
			t.Fatalf("expected data route on empty reply")
		}
	})
}

func TestLeadingToken(t *testing.T) {
	cases := []struct{ in, want string }{
		{"YES.", "yes"},
		{"'no'", "no"},
		{"  Yes, absolutely", "yes"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := leadingToken(tc.in); got != tc.want {
			t.Fatalf("leadingToken(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}
