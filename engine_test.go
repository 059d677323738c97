package continuity

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// testEngine wires an Engine to in-memory fakes, one store per database
// path so agent isolation is observable.
func testEngine(t *testing.T) (*Engine, map[string]*fakeStore) {
	t.Helper()
	stores := make(map[string]*fakeStore)
	var mu sync.Mutex
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	e := New(cfg,
		WithEmbedding(newFakeEmbedding()),
		WithStoreOpener(func(dbPath string) ExchangeStore {
			mu.Lock()
			defer mu.Unlock()
			s := newFakeStore()
			stores[dbPath] = s
			return s
		}),
	)
	e.now = func() time.Time { return time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC) }
	return e, stores
}

func turn(user, agent string, ts time.Time) []Message {
	return []Message{
		{Role: RoleUser, Content: TextContent(user), Timestamp: ts},
		{Role: RoleAssistant, Content: TextContent(agent), Timestamp: ts.Add(30 * time.Second)},
	}
}

func TestTurnRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	ts := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

	e.AgentEnd(ctx, "", turn("I love sourdough and rye flour", "Great bake! Rye gives depth.", ts))

	prepend := e.BeforeAgentStart(ctx, "", []Message{
		{Role: RoleUser, Content: TextContent("do you remember my sourdough flour preference?")},
	})
	if !strings.Contains(prepend, "You remember these earlier conversations with this user:") {
		t.Fatalf("expected recall injection, got %q", prepend)
	}
	if !strings.Contains(prepend, "I love sourdough and rye flour") {
		t.Errorf("recalled user text missing: %q", prepend)
	}
}

func TestShortTurnSkipsRetrieval(t *testing.T) {
	ctx := context.Background()
	e, stores := testEngine(t)
	out := e.BeforeAgentStart(ctx, "", []Message{{Role: RoleUser, Content: TextContent("hi there")}})
	if out != "" {
		t.Errorf("short turn must produce empty prepend, got %q", out)
	}
	if len(stores) != 0 {
		t.Error("short turn must not touch storage")
	}
}

func TestInjectionGateWithoutIntent(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	ts := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	e.AgentEnd(ctx, "", turn("I love sourdough and rye flour", "Great bake!", ts))

	// Unrelated query, no recall intent: composite of weak matches must not
	// clear the gate once the threshold is raised.
	e.cfg.Search.RelevanceThreshold = 10
	out := e.BeforeAgentStart(ctx, "", []Message{
		{Role: RoleUser, Content: TextContent("please schedule a meeting for tomorrow afternoon")},
	})
	if strings.Contains(out, "You remember") {
		t.Errorf("gate must hold without intent or relevance: %q", out)
	}

	// The cache must still be populated for tool enrichment.
	st := e.agent("")
	st.mu.Lock()
	cached := len(st.lastRetrieval)
	st.mu.Unlock()
	if cached == 0 {
		t.Error("retrieval cache must be kept even when not injecting")
	}
}

func TestToolResultPersistEnrichment(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	ts := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	e.AgentEnd(ctx, "", turn("I love sourdough and rye flour", "Great bake!", ts))

	e.BeforeToolCall(ctx, "", MemorySearchTool, map[string]any{"query": "sourdough rye flour"})

	msg := Message{Role: RoleTool, ToolName: MemorySearchTool, Content: TextContent(`{"results": []}`)}
	out, changed := e.ToolResultPersist("", MemorySearchTool, msg)
	if !changed {
		t.Fatal("expected enrichment from pre-populated cache")
	}
	if !strings.HasPrefix(out.Text(), "You remember these conversations with this user:") {
		t.Errorf("unexpected enriched text: %q", out.Text())
	}

	if _, changed := e.ToolResultPersist("", "other_tool", msg); changed {
		t.Error("other tools must pass through")
	}
}

func TestAgentIsolation(t *testing.T) {
	ctx := context.Background()
	e, stores := testEngine(t)
	ts := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

	e.AgentEnd(ctx, "alpha", turn("alpha only sourdough secret", "noted", ts))
	e.AgentEnd(ctx, "beta", turn("beta only croissant secret", "noted", ts))

	if len(stores) != 2 {
		t.Fatalf("expected 2 isolated stores, got %d", len(stores))
	}
	for path, store := range stores {
		stats, _ := store.Stats(ctx)
		if stats.Exchanges != 1 {
			t.Errorf("store %s: expected 1 exchange, got %d", path, stats.Exchanges)
		}
	}

	out := e.BeforeAgentStart(ctx, "beta", []Message{
		{Role: RoleUser, Content: TextContent("do you remember my croissant secret?")},
	})
	if strings.Contains(out, "sourdough") {
		t.Errorf("agent beta recalled alpha's memory: %q", out)
	}

	infos := e.ListAgents()
	if len(infos) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(infos))
	}
	if infos[0].DataDir == infos[1].DataDir {
		t.Error("agents must live under disjoint paths")
	}
	for _, info := range infos {
		if info.AgentID != DefaultAgentID && !strings.Contains(info.DataDir, filepath.Join("agents", info.AgentID)) {
			t.Errorf("agent %s dir %s not under agents/", info.AgentID, info.DataDir)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	e.BeforeAgentStart(ctx, "", []Message{{Role: RoleUser, Content: TextContent("a long enough first message")}})
	st := e.agent("")
	st.mu.Lock()
	count := st.exchangeCount
	st.mu.Unlock()
	if count != 1 {
		t.Errorf("expected exchange count 1, got %d", count)
	}

	// Real-clock timestamps keep the fresh anchor inside its age window.
	e.AgentEnd(ctx, "", turn("my name is Ada, sourdough sourdough", "Hello Ada", time.Now()))
	state, err := e.State(ctx, "")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(state.Anchors) == 0 {
		t.Error("expected identity anchor absorbed at turn end")
	}
	if _, ok := state.Topics["sourdough"]; !ok {
		t.Errorf("expected topic absorbed at turn end, got %v", state.Topics)
	}

	e.SessionStart("", "session-2")
	state, _ = e.State(ctx, "")
	if state.ExchangeCount != 0 || len(state.Anchors) != 0 || len(state.Topics) != 0 {
		t.Errorf("session start must reset session state: %+v", state)
	}
}

func TestMaintenanceSweep(t *testing.T) {
	ctx := context.Background()
	e, stores := testEngine(t)
	st := e.agent("")
	st.archiver.now = e.now // deterministic retention cutoff

	// Archive two days without indexing them.
	old := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) // beyond 90-day retention
	recent := time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC)
	st.archiver.Archive(turn("ancient sourdough chat", "ok", old))
	st.archiver.Archive(turn("recent sourdough chat", "ok", recent))

	report, err := e.MaintenanceSweep(ctx, "")
	if err != nil {
		t.Fatalf("MaintenanceSweep: %v", err)
	}
	if report.RunNumber != 1 {
		t.Errorf("run number = %d", report.RunNumber)
	}
	if report.Indexed != 2 {
		t.Errorf("expected 2 exchanges indexed, got %d", report.Indexed)
	}
	if report.Pruned != 1 {
		t.Errorf("expected 1 day pruned, got %d", report.Pruned)
	}
	if report.ArchiveStats.Days != 1 {
		t.Errorf("expected 1 surviving day, got %d", report.ArchiveStats.Days)
	}

	// Pruned day must be gone from the store and the index log.
	for _, store := range stores {
		stats, _ := store.Stats(ctx)
		if stats.Dates != 1 {
			t.Errorf("expected 1 date left in store, got %d", stats.Dates)
		}
	}
	if st.indexer.IndexedDates()[DayKey(old)] {
		t.Error("pruned day still marked indexed")
	}

	// A second sweep is a no-op.
	report, _ = e.MaintenanceSweep(ctx, "")
	if report.Indexed != 0 || report.Pruned != 0 {
		t.Errorf("second sweep must be idle: %+v", report)
	}
}

func TestStorageInitFailureDegrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	e := New(cfg, WithStoreOpener(func(string) ExchangeStore {
		s := newFakeStore()
		s.failInit = true
		return s
	}))

	out := e.BeforeAgentStart(context.Background(), "", []Message{
		{Role: RoleUser, Content: TextContent("do you remember anything about me?")},
	})
	if strings.Contains(out, "You remember") {
		t.Errorf("failed storage must not inject recall: %q", out)
	}

	// Archiving still works without storage.
	e.AgentEnd(context.Background(), "", turn("still archived", "yes", time.Now()))
	stats, err := e.ArchiveStatsFor("")
	if err != nil || stats.Messages != 2 {
		t.Errorf("archive must survive storage failure: %+v %v", stats, err)
	}
}

func TestEngineWithoutStoreOpener(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	e := New(cfg)
	out := e.BeforeAgentStart(context.Background(), "", []Message{
		{Role: RoleUser, Content: TextContent("a long enough message to retrieve")},
	})
	if out != "" {
		t.Errorf("no store configured must degrade to empty prepend, got %q", out)
	}
}

func TestConcurrentStorageInit(t *testing.T) {
	e, stores := testEngine(t)
	st := e.agent("")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.ensureStorage(context.Background(), st)
		}()
	}
	wg.Wait()
	if len(stores) != 1 {
		t.Errorf("concurrent first callers must share one store, got %d", len(stores))
	}
}

func TestSanitizeAgentID(t *testing.T) {
	cases := map[string]string{
		"":             DefaultAgentID,
		"main":         "main",
		"alpha":        "alpha",
		"../escape":    "-escape",
		"a/b":          "a-b",
		"spaced name":  "spaced-name",
		"dots.are.ok":  "dots.are.ok",
	}
	for in, want := range cases {
		if got := sanitizeAgentID(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
