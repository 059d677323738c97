package continuity_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coolmanns/continuity"
	"github.com/coolmanns/continuity/store/sqlite"
)

// wordEmbedding is a deterministic embedder: texts sharing words land
// closer together. Enough retrieval signal for end-to-end tests without a
// network.
type wordEmbedding struct{}

func (wordEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, 32)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			w = strings.Trim(w, `.,!?"'`)
			h := uint32(2166136261)
			for _, c := range []byte(w) {
				h = (h ^ uint32(c)) * 16777619
			}
			vec[h%32]++
		}
		out[i] = vec
	}
	return out, nil
}

func (wordEmbedding) Dimensions() int { return 32 }
func (wordEmbedding) Name() string    { return "word" }

func newTestEngine(t *testing.T) *continuity.Engine {
	t.Helper()
	cfg := continuity.DefaultConfig()
	cfg.DataDir = t.TempDir()
	e := continuity.New(cfg,
		continuity.WithEmbedding(wordEmbedding{}),
		continuity.WithStoreOpener(func(dbPath string) continuity.ExchangeStore {
			return sqlite.New(dbPath)
		}),
	)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestArchiveSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	ts := time.Now().Add(-2 * time.Minute)

	e.AgentEnd(ctx, "", []continuity.Message{
		{Role: continuity.RoleUser, Content: continuity.TextContent("I love sourdough"), Timestamp: ts},
		{Role: continuity.RoleAssistant, Content: continuity.TextContent("Great bake!"), Timestamp: ts.Add(time.Minute)},
	})

	result, err := e.Search(ctx, continuity.SearchRequest{Query: "sourdough", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Exchanges) == 0 {
		t.Fatal("expected at least one exchange")
	}
	best := result.Exchanges[0]
	if !strings.Contains(best.UserText, "sourdough") {
		t.Errorf("unexpected match: %+v", best)
	}
	if best.Distance >= 1.0 {
		t.Errorf("expected distance < 1.0, got %v", best.Distance)
	}
	if len(result.Distances) != len(result.Exchanges) {
		t.Errorf("distances not aligned: %d vs %d", len(result.Distances), len(result.Exchanges))
	}
}

func TestNoiseFilteredFromInjection(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	ts := time.Now().Add(-3 * time.Minute)

	e.AgentEnd(ctx, "", []continuity.Message{
		{Role: continuity.RoleUser, Content: continuity.TextContent("do you remember my recipe?"), Timestamp: ts},
		{Role: continuity.RoleAssistant, Content: continuity.TextContent("I don't have any information about that"), Timestamp: ts.Add(time.Minute)},
	})

	prepend := e.BeforeAgentStart(ctx, "", []continuity.Message{
		{Role: continuity.RoleUser, Content: continuity.TextContent("remember my recipe preferences?")},
	})
	if strings.Contains(prepend, "I don't have any information") {
		t.Errorf("denial exchange leaked into injection: %q", prepend)
	}
	if strings.Contains(prepend, "You remember these earlier conversations") {
		t.Errorf("noise-only archive must not inject recall: %q", prepend)
	}
}

func TestRecallAcrossSessions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	ts := time.Now().Add(-24 * time.Hour)

	e.SessionStart("", "session-1")
	e.AgentEnd(ctx, "", []continuity.Message{
		{Role: continuity.RoleUser, Content: continuity.TextContent("my rye starter is named Herbert"), Timestamp: ts},
		{Role: continuity.RoleAssistant, Content: continuity.TextContent("Herbert is a fine name for a starter"), Timestamp: ts.Add(time.Minute)},
	})
	e.SessionEnd(ctx, "", "session-1", 2)

	e.SessionStart("", "session-2")
	prepend := e.BeforeAgentStart(ctx, "", []continuity.Message{
		{Role: continuity.RoleUser, Content: continuity.TextContent("what did I name my rye starter? do you recall?")},
	})
	if !strings.Contains(prepend, "Herbert") {
		t.Errorf("memory lost across sessions: %q", prepend)
	}
	if !strings.Contains(prepend, "You remember these earlier conversations with this user:") {
		t.Errorf("missing first-person framing: %q", prepend)
	}
}
