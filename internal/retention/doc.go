// Package retention prunes old backup runs, keeping the newest N per
// (agent, stack, site) key. Catalog rows are authoritative: a row is pruned
// even when its directory cannot be removed. Directory removal is refused
// for any path that escapes the backups root.
package retention
