// Package continuity gives a conversational agent persistent, cross-session
// memory. It archives every exchange a user has with an agent, indexes the
// archive for hybrid semantic + keyword retrieval, and on each new turn
// recalls the most relevant past exchanges and injects them into the agent's
// prompt in first person, so recalled content reads as the agent's own memory.
//
// The Engine is the entry point. The host runtime forwards its lifecycle
// events (turn start, tool calls, turn end, session boundaries) to the
// matching Engine hook; the Engine keeps a fully isolated memory domain per
// agent id: a per-day JSON archive, an exchange index with vector and
// full-text search, and session-scoped topic and anchor trackers.
//
// Storage backends implement ExchangeStore; store/sqlite is the zero-CGO
// default and store/postgres the pgvector-backed alternative. Embedding
// providers implement EmbeddingProvider; see provider/resolve for the
// configured preference chain.
package continuity
