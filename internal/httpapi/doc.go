// Package httpapi exposes the controller's REST surface.
//
// # Routes
//
// POST /api/agents/register is the only unauthenticated API route; it
// exchanges a discovery token for a shared secret. Everything else requires
// a Bearer JWT and runs with the token's subject as the acting operator:
//
//   - agents: list, detail, delete, rotate_secret, refresh (re-reads the
//     agent's site list)
//   - backups: manual trigger, list with optional key filter, detail,
//     delete, feedback
//   - schedules, retention depth, maintenance mode
//   - audit log and notifications
//
// Errors use a uniform {"error": code, "detail": ...} envelope. Registration
// reads the peer address from the connection, never from proxy headers, so
// token IP binding cannot be spoofed with X-Forwarded-For.
package httpapi
