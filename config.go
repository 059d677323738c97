package continuity

// Config holds every tunable of the memory engine. All fields have working
// defaults; see DefaultConfig. The internal/config package layers a TOML
// file and environment overrides on top.
type Config struct {
	// DataDir is the root of all per-agent storage. The default agent
	// ("main") lives directly under it; any other agent id under
	// {DataDir}/agents/{id}.
	DataDir string `toml:"data_dir"`

	ContextBudget   ContextBudgetConfig `toml:"context_budget"`
	Anchors         AnchorConfig        `toml:"anchors"`
	TopicTracking   TopicConfig         `toml:"topic_tracking"`
	Compaction      CompactionConfig    `toml:"compaction"`
	TokenEstimation TokenConfig         `toml:"token_estimation"`
	Archive         ArchiveConfig       `toml:"archive"`
	Embedding       EmbeddingConfig     `toml:"embedding"`
	Search          SearchConfig        `toml:"search"`
	Maintenance     MaintenanceConfig   `toml:"maintenance"`
	NoiseFilter     NoiseConfig         `toml:"noise_filter"`
	Observer        ObserverConfig      `toml:"observer"`

	// ContinuityIndicators are case-insensitive substrings of a user turn
	// that signal explicit recall intent and force injection.
	ContinuityIndicators []string `toml:"continuity_indicators"`
}

// ContextBudgetConfig tunes the tiered in-session message selection.
type ContextBudgetConfig struct {
	// BudgetRatio is the share of the token ceiling handed to the
	// allocator (and, by design, to the task-aware compactor).
	BudgetRatio float64 `toml:"budget_ratio"`
	// RecentTurnsAlwaysFull is the turn radius R of the tier bands:
	// messages within 2R of the end are essential, within 4R medium,
	// within 8R low, and minimal beyond that.
	RecentTurnsAlwaysFull int `toml:"recent_turns_always_full"`
	RecentTurnCharLimit   int `toml:"recent_turn_char_limit"`
	MidTurnCharLimit      int `toml:"mid_turn_char_limit"`
	OlderTurnCharLimit    int `toml:"older_turn_char_limit"`
	// PoolRatios split the budget across tiers; they must sum to 1.
	PoolRatios PoolRatios `toml:"pool_ratios"`
}

// PoolRatios is the per-tier share of the total token budget.
type PoolRatios struct {
	Essential float64 `toml:"essential"`
	High      float64 `toml:"high"`
	Medium    float64 `toml:"medium"`
	Low       float64 `toml:"low"`
	Minimal   float64 `toml:"minimal"`
}

// Sum returns the total of all ratios.
func (p PoolRatios) Sum() float64 {
	return p.Essential + p.High + p.Medium + p.Low + p.Minimal
}

// AnchorConfig tunes continuity anchor detection.
type AnchorConfig struct {
	Enabled bool `toml:"enabled"`
	// MaxAgeMinutes drops anchors older than this during pruning.
	MaxAgeMinutes int `toml:"max_age_minutes"`
	// MaxCount caps the retained anchor list after sorting by priority.
	MaxCount int            `toml:"max_count"`
	Keywords AnchorKeywords `toml:"keywords"`
}

// AnchorKeywords holds the per-type keyword lists scanned in user messages.
type AnchorKeywords struct {
	Identity      []string `toml:"identity"`
	Contradiction []string `toml:"contradiction"`
	Tension       []string `toml:"tension"`
}

// TopicConfig tunes the windowed topic tracker.
type TopicConfig struct {
	// WindowSize is the sliding window, in exchanges, outside of which
	// topics are pruned.
	WindowSize int `toml:"window_size"`
	// FixationThreshold is the mention count at which a topic is flagged.
	FixationThreshold int     `toml:"fixation_threshold"`
	DecayFactor       float64 `toml:"decay_factor"`
	MinWordLength     int     `toml:"min_word_length"`
	// CustomPatterns are extra case-insensitive regexes whose full matches
	// become topics. Invalid patterns are skipped with a warning.
	CustomPatterns []string `toml:"custom_patterns"`
	StopWords      []string `toml:"stop_words"`
	// PruneAgeMinutes additionally drops topics whose last mention is
	// older than this wall-clock age. Zero disables time-based pruning.
	PruneAgeMinutes int `toml:"prune_age_minutes"`
}

// CompactionConfig tunes threshold-triggered history compression.
type CompactionConfig struct {
	// Threshold is the ratio of the token ceiling at which compaction
	// triggers.
	Threshold float64 `toml:"threshold"`
	// FallbackMessages is the tail kept by the last-resort fallback.
	FallbackMessages int `toml:"fallback_messages"`
	// TaskAware enables the tool-call-preserving strategy when the
	// history contains tool traffic.
	TaskAware bool `toml:"task_aware"`
}

// TokenConfig tunes the heuristic token estimator.
type TokenConfig struct {
	TokensPerWord          float64 `toml:"tokens_per_word"`
	SpecialCharTokenWeight float64 `toml:"special_char_token_weight"`
	DefaultMaxTokens       int     `toml:"default_max_tokens"`
}

// ArchiveConfig tunes the per-day conversation archive.
type ArchiveConfig struct {
	// ArchiveDir is the directory name under each agent's data dir.
	ArchiveDir    string `toml:"archive_dir"`
	RetentionDays int    `toml:"retention_days"`
	// BatchIndexDelayMS is the pause between per-day index batches during
	// maintenance, to avoid saturating the embedding provider.
	BatchIndexDelayMS int `toml:"batch_index_delay_ms"`
}

// EmbeddingConfig selects and tunes the embedding provider chain.
type EmbeddingConfig struct {
	// Endpoint, when set, is tried first: an OpenAI-compatible base URL
	// exposing POST /v1/embeddings.
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
	// GeminiAPIKey, when set, enables the Gemini fallback provider.
	GeminiAPIKey string `toml:"gemini_api_key"`
	Model        string `toml:"model"`
	// Dimensions is a hint; the real dimensionality is discovered from a
	// warmup call and frozen in the store.
	Dimensions int `toml:"dimensions"`
	// DBFile is the exchange database filename under each agent dir.
	DBFile string `toml:"db_file"`
}

// SearchConfig tunes hybrid retrieval and the injection gate.
type SearchConfig struct {
	RecencyHalfLifeDays float64 `toml:"recency_half_life_days"`
	RecencyWeight       float64 `toml:"recency_weight"`
	RRFK                int     `toml:"rrf_k"`
	// RelevanceThreshold gates injection when no explicit recall intent is
	// present: the best composite score must exceed it.
	RelevanceThreshold float64 `toml:"relevance_threshold"`
	// RetrievalLimit is how many candidates the turn-start retrieval asks
	// for before noise filtering.
	RetrievalLimit int `toml:"retrieval_limit"`
}

// MaintenanceConfig tunes the background maintenance loop.
type MaintenanceConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// NoiseConfig holds the data-driven pattern tables of the noise filter.
// All matching is case-insensitive substring containment.
type NoiseConfig struct {
	// DenialPhrases reject an exchange when found in the agent text.
	DenialPhrases []string `toml:"denial_phrases"`
	// MetaQuestions reject an exchange when found in the user text.
	MetaQuestions []string `toml:"meta_questions"`
	// ResetMarkers reject session-reset boilerplate in the user text.
	ResetMarkers []string `toml:"reset_markers"`
	// FormulaicReplies reject trivially short exchanges whose agent text
	// contains one of these.
	FormulaicReplies []string `toml:"formulaic_replies"`
	// MinExchangeLength is the combined length under which a formulaic
	// reply makes the exchange trivial.
	MinExchangeLength int `toml:"min_exchange_length"`
}

// ObserverConfig enables OpenTelemetry export in the daemon.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		DataDir: "continuity-data",
		ContextBudget: ContextBudgetConfig{
			BudgetRatio:           0.65,
			RecentTurnsAlwaysFull: 2,
			RecentTurnCharLimit:   3000,
			MidTurnCharLimit:      1500,
			OlderTurnCharLimit:    500,
			PoolRatios: PoolRatios{
				Essential: 0.30,
				High:      0.25,
				Medium:    0.25,
				Low:       0.15,
				Minimal:   0.05,
			},
		},
		Anchors: AnchorConfig{
			Enabled:       true,
			MaxAgeMinutes: 120,
			MaxCount:      5,
			Keywords: AnchorKeywords{
				Identity:      []string{"my name is", "i am ", "i'm ", "call me", "i work"},
				Contradiction: []string{"actually", "that's wrong", "i meant", "correction", "not what i said"},
				Tension:       []string{"frustrated", "annoyed", "upset", "angry", "disappointed", "this isn't working"},
			},
		},
		TopicTracking: TopicConfig{
			WindowSize:        10,
			FixationThreshold: 3,
			DecayFactor:       0.5,
			MinWordLength:     4,
			StopWords:         defaultStopWords,
		},
		Compaction: CompactionConfig{
			Threshold:        0.80,
			FallbackMessages: 20,
			TaskAware:        true,
		},
		TokenEstimation: TokenConfig{
			TokensPerWord:          1.3,
			SpecialCharTokenWeight: 0.5,
			DefaultMaxTokens:       8192,
		},
		Archive: ArchiveConfig{
			ArchiveDir:        "archive",
			RetentionDays:     90,
			BatchIndexDelayMS: 100,
		},
		Embedding: EmbeddingConfig{
			Model:  "nomic-embed-text",
			DBFile: "continuity.db",
		},
		Search: SearchConfig{
			RecencyHalfLifeDays: 14,
			RecencyWeight:       0.15,
			RRFK:                60,
			RelevanceThreshold:  0.02,
			RetrievalLimit:      30,
		},
		Maintenance: MaintenanceConfig{
			IntervalSeconds: 300,
		},
		NoiseFilter: NoiseConfig{
			DenialPhrases: []string{
				"i don't have",
				"i do not have",
				"no memory of",
				"no recollection",
				"it looks like i don't",
				"i'm not able to recall",
				"let me reconstruct",
				"nice to meet you",
			},
			MetaQuestions: []string{
				"do you remember",
				"do you recall",
				"did i tell you",
				"can you remember",
				"sorry to keep asking",
				"have i mentioned",
			},
			ResetMarkers: []string{
				"this session is being continued",
				"conversation was summarized",
				"context was compacted",
			},
			FormulaicReplies: []string{
				"how can i help",
				"what can i do for you",
				"hello!",
				"hi there",
			},
			MinExchangeLength: 20,
		},
		ContinuityIndicators: []string{
			"remember",
			"recall",
			"you told",
			"you said",
			"i told you",
			"last time",
			"before",
			"previously",
			"we talked",
			"we discussed",
		},
	}
}

var defaultStopWords = []string{
	"about", "after", "again", "also", "been", "before", "being", "could",
	"does", "doing", "down", "from", "have", "having", "here", "into",
	"just", "like", "make", "more", "most", "only", "other", "over",
	"really", "should", "some", "such", "than", "that", "them", "then",
	"there", "these", "they", "thing", "think", "this", "very", "want",
	"well", "were", "what", "when", "where", "which", "while", "will",
	"with", "would", "your",
}
