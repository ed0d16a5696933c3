// Package memory provides the four-tier memory system of an agent.
//
// Observations flow upward through the tiers, each with its own lifecycle:
//
//   - Observation buffer: raw sensory input tagged with a channel (audio,
//     visual, spatial, mental). Entries expire after a fixed delay and the
//     buffer is bounded by capacity.
//
//   - Working memory: a short FIFO of what the agent has heard and thought
//     recently. Clearing it keeps the latest item so the agent never loses
//     its immediate context.
//
//   - Recent memory: an embedding-indexed tier written with sentence-sized
//     summaries once enough reflection has accumulated.
//
//   - Long-term memory: an embedding-indexed tier written by consolidation.
//
// # Embedding Tiers
//
// Recent and long-term memory store text together with its embedding. Adding
// text enqueues an insert job on the batching encoder; the embedding arrives
// later and is written under the tier's lock. When forgetting is enabled every
// existing item at least as similar as the threshold is evicted before the new
// one is appended, so no two items in a tier are near-duplicates.
//
//	recent := memory.NewEmbeddingMemory("recentmem", enc, memory.EmbeddingConfig{
//	    Capacity:            20,
//	    Forgetting:          true,
//	    ForgettingThreshold: 0.9,
//	})
//	recent.Add("Alice said she is moving to Paris.")
//
//	// From a background goroutine only.
//	hits := recent.Query(ctx, "Where is Alice going?", 2)
//
// # Consolidation
//
// When recent memory reaches capacity the Manager clusters its embeddings with
// DBSCAN. Singleton clusters move to long-term memory verbatim; larger
// clusters are summarized into a single entry. Recent memory is cleared of the
// consolidated items only after every cluster has been processed.
//
// # Prompt Context
//
// Manager.Load renders every tier into a Context for prompt construction,
// including the conversation view of working memory and semantic lookups
// against the embedding tiers.
package memory
