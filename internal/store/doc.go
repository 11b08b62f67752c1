// Package store provides persistence for the fb controller.
//
// # Overview
//
// The Store interface exposes typed operations over five tables:
//
//   - agents: the directory of registered backup agents, keyed by agent_id,
//     holding each agent's base URL, shared HMAC secret and declared sites
//   - backups: one row per completed backup run, totally ordered by ts
//     within an (agent_id, stack, site) key; retention prunes this table
//   - audit_log: controller actions with an in-flight/finished lifecycle
//   - settings: JSON-encoded operator settings (retention depth, maintenance
//     mode, per-site schedules, Telegram credentials)
//   - notifications: stored copies of outbound notifications
//
// # Implementation
//
// SQLiteStore is the only implementation, using modernc.org/sqlite (pure Go,
// no cgo). The schema is created automatically on first open. WAL mode is
// enabled so the discovery listener, registration handler and sweep can
// read concurrently while writes stay serialized.
//
// Timestamps are stored as RFC3339 UTC strings. Lookups for missing rows
// return ErrNotFound rather than sql.ErrNoRows.
//
// # Invariants
//
// An agent's shared_secret is written once at creation and changed only by
// UpdateAgentSecret (operator rotation). Re-registration goes through
// UpdateAgentContact, which never touches the secret.
package store
