// Package session provides per-session conversational memory for the
// gateway.
//
// Each distinct session key owns a Memory: an append-only, deduplicated
// ledger of messages plus a cached view of the shared checklist (statuses and
// recommendations) from that session's point of view. Memories are created
// lazily on first use and live for the process lifetime; Clear and Reset are
// the only reclamation paths.
//
// Dedupe keys guarantee idempotent replay: an explicit message id wins, then
// an explicit turn id, then a content-derived fallback. System-role messages
// are transient instructions and are never stored.
package session
