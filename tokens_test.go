package continuity

import (
	"errors"
	"testing"
)

func TestEstimateHeuristic(t *testing.T) {
	e := NewEstimator(TokenConfig{})

	if got := e.Estimate(""); got != 0 {
		t.Errorf("empty text: expected 0, got %d", got)
	}

	// 4 words, no special chars: ceil(4*1.3) = 6.
	if got := e.Estimate("one two three four"); got != 6 {
		t.Errorf("expected 6, got %d", got)
	}

	// 2 words + 2 special chars: ceil(2*1.3 + 2*0.5) = 4.
	if got := e.Estimate("hello, world!"); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
}

func TestEstimateMessagesOverhead(t *testing.T) {
	e := NewEstimator(TokenConfig{})
	msgs := []Message{
		{Role: RoleUser, Content: TextContent("one two")},
		{Role: RoleAssistant, Content: TextContent("three four")},
	}
	// Each message: ceil(2*1.3)=3 tokens + 4 overhead.
	if got := e.EstimateMessages(msgs); got != 14 {
		t.Errorf("expected 14, got %d", got)
	}
}

func TestSetMaxTokens(t *testing.T) {
	e := NewEstimator(TokenConfig{})
	if err := e.SetMaxTokens(0); err == nil {
		t.Error("expected error for zero ceiling")
	}
	if err := e.SetMaxTokens(-5); err == nil {
		t.Error("expected error for negative ceiling")
	}
	if e.MaxTokens() != 8192 {
		t.Errorf("ceiling changed by rejected setter: %d", e.MaxTokens())
	}
	if err := e.SetMaxTokens(4096); err != nil {
		t.Fatalf("SetMaxTokens: %v", err)
	}
	if e.MaxTokens() != 4096 {
		t.Errorf("expected 4096, got %d", e.MaxTokens())
	}
}

func TestCustomTokenizer(t *testing.T) {
	e := NewEstimator(TokenConfig{})

	if err := e.SetTokenizer(func(string) (int, error) { return 0, errors.New("boom") }); err == nil {
		t.Error("expected probe failure to reject tokenizer")
	}
	if err := e.SetTokenizer(func(string) (int, error) { return -1, nil }); err == nil {
		t.Error("expected negative count to reject tokenizer")
	}

	if err := e.SetTokenizer(func(s string) (int, error) { return len(s), nil }); err != nil {
		t.Fatalf("SetTokenizer: %v", err)
	}
	if got := e.Estimate("abcde"); got != 5 {
		t.Errorf("expected 5 from custom tokenizer, got %d", got)
	}
}

func TestTokenizerRuntimeFallback(t *testing.T) {
	e := NewEstimator(TokenConfig{})
	calls := 0
	err := e.SetTokenizer(func(s string) (int, error) {
		calls++
		if calls > 1 {
			return 0, errors.New("flaky")
		}
		return len(s), nil
	})
	if err != nil {
		t.Fatalf("SetTokenizer: %v", err)
	}
	// Second call errors at runtime; the heuristic must take over.
	if got := e.Estimate("one two three four"); got != 6 {
		t.Errorf("expected heuristic fallback 6, got %d", got)
	}
}

func TestBudgetChecks(t *testing.T) {
	e := NewEstimator(TokenConfig{DefaultMaxTokens: 100})
	if !e.IsOverBudget(96, 0.95) {
		t.Error("96 should exceed 95% of 100")
	}
	if e.IsOverBudget(95, 0.95) {
		t.Error("95 should not exceed 95% of 100")
	}
	if got := e.Remaining(30); got != 70 {
		t.Errorf("expected 70 remaining, got %d", got)
	}
	if got := e.Remaining(200); got != 0 {
		t.Errorf("remaining must not go negative, got %d", got)
	}
}
