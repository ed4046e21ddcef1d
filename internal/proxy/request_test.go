package proxy

import "testing"

func TestFlattenUserPromptJoinsUserMessagesOnly(t *testing.T) {
	r := ChatRequest{Messages: []ChatMessage{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}}

	got := r.FlattenUserPrompt()
	want := "first\nsecond"
	if got != want {
		t.Fatalf("FlattenUserPrompt() = %q, want %q", got, want)
	}
}

func TestFlattenUserPromptNoUserMessages(t *testing.T) {
	r := ChatRequest{Messages: []ChatMessage{{Role: "system", Content: "x"}}}
	if got := r.FlattenUserPrompt(); got != "" {
		t.Fatalf("FlattenUserPrompt() = %q, want empty", got)
	}
}

func TestWithPromptRemapsMatchingLineCount(t *testing.T) {
	r := ChatRequest{Messages: []ChatMessage{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
	}}

	out := r.WithPrompt("FIRST\nSECOND")
	if out.Messages[1].Content != "FIRST" || out.Messages[2].Content != "SECOND" {
		t.Fatalf("unexpected messages after WithPrompt: %+v", out.Messages)
	}
	if out.Messages[0].Content != "be helpful" {
		t.Fatalf("system message should be untouched, got %q", out.Messages[0].Content)
	}
	// original must not be mutated
	if r.Messages[1].Content != "first" {
		t.Fatalf("WithPrompt mutated the receiver's messages")
	}
}

func TestWithPromptFallsBackOnLineCountMismatch(t *testing.T) {
	r := ChatRequest{Messages: []ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "user", Content: "second"},
	}}

	out := r.WithPrompt("one line only, no newline introduced")
	if out.Messages[0].Content != "first" {
		t.Fatalf("earlier user message should be left alone, got %q", out.Messages[0].Content)
	}
	if out.Messages[1].Content != "one line only, no newline introduced" {
		t.Fatalf("last user message should receive the whole prompt, got %q", out.Messages[1].Content)
	}
}

func TestWithPromptNoUserMessagesIsNoop(t *testing.T) {
	r := ChatRequest{Messages: []ChatMessage{{Role: "system", Content: "x"}}}
	out := r.WithPrompt("whatever")
	if out.Messages[0].Content != "x" {
		t.Fatalf("expected no change, got %+v", out.Messages)
	}
}
