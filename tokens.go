package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"
)

// messageOverheadTokens approximates the per-message framing cost added by
// chat templates.
const messageOverheadTokens = 4

// Tokenizer counts tokens in a text. It must return a nonnegative count;
// on error the estimator falls back to its heuristic.
type Tokenizer func(text string) (int, error)

// Estimator approximates token counts without a model tokenizer. The default
// heuristic is ceil(words*tokensPerWord + specialChars*specialCharWeight);
// a real tokenizer can be plugged in with SetTokenizer.
type Estimator struct {
	tokensPerWord     float64
	specialCharWeight float64
	maxTokens         int
	tokenizer         Tokenizer
	logger            *slog.Logger
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithEstimatorLogger sets the structured logger used for tokenizer
// fallback warnings.
func WithEstimatorLogger(l *slog.Logger) EstimatorOption {
	return func(e *Estimator) { e.logger = l }
}

// NewEstimator creates an Estimator from config, applying defaults for any
// zero field.
func NewEstimator(cfg TokenConfig, opts ...EstimatorOption) *Estimator {
	if cfg.TokensPerWord <= 0 {
		cfg.TokensPerWord = 1.3
	}
	if cfg.SpecialCharTokenWeight <= 0 {
		cfg.SpecialCharTokenWeight = 0.5
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 8192
	}
	e := &Estimator{
		tokensPerWord:     cfg.TokensPerWord,
		specialCharWeight: cfg.SpecialCharTokenWeight,
		maxTokens:         cfg.DefaultMaxTokens,
		logger:            nopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Estimate returns the approximate token count of text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if e.tokenizer != nil {
		n, err := e.tokenizer(text)
		if err == nil && n >= 0 {
			return n
		}
		e.logger.Warn("tokens: custom tokenizer failed, using heuristic", "error", err)
	}
	return e.heuristic(text)
}

func (e *Estimator) heuristic(text string) int {
	words := len(strings.Fields(text))
	special := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return int(math.Ceil(float64(words)*e.tokensPerWord + float64(special)*e.specialCharWeight))
}

// EstimateMessages returns the approximate token count of a message list,
// including per-message framing overhead.
func (e *Estimator) EstimateMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Estimate(m.Text()) + messageOverheadTokens
	}
	return total
}

// SetMaxTokens sets the token ceiling. Non-positive values are rejected and
// leave the previous ceiling in place.
func (e *Estimator) SetMaxTokens(n int) error {
	if n <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", n)
	}
	e.maxTokens = n
	return nil
}

// MaxTokens returns the current token ceiling.
func (e *Estimator) MaxTokens() int {
	return e.maxTokens
}

// SetTokenizer plugs in a real tokenizer. It is validated with a probe call;
// a tokenizer that errors or returns a negative count is rejected.
func (e *Estimator) SetTokenizer(fn Tokenizer) error {
	if fn == nil {
		e.tokenizer = nil
		return nil
	}
	n, err := fn("probe")
	if err != nil {
		return fmt.Errorf("tokenizer probe: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("tokenizer returned negative count %d", n)
	}
	e.tokenizer = fn
	return nil
}

// IsOverBudget reports whether used exceeds ratio of the token ceiling.
func (e *Estimator) IsOverBudget(used int, ratio float64) bool {
	return float64(used) > float64(e.maxTokens)*ratio
}

// Remaining returns the tokens left under the ceiling, never negative.
func (e *Estimator) Remaining(used int) int {
	if used >= e.maxTokens {
		return 0
	}
	return e.maxTokens - used
}

// nopLogger discards all output. Components default to it so logging is
// strictly opt-in.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
