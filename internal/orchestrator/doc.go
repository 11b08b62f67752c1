// Package orchestrator runs backups and decides when schedules fire.
//
// # Run lifecycle
//
// RunBackup drives one backup for an (agent, stack, site) key:
//
//  1. look up the agent and take the per-key in-flight lock
//  2. open an audit entry and trigger the backup on the agent
//  3. pull each reported artifact into a fresh run directory
//  4. write manifest.json, insert the catalog row, apply retention
//  5. close the audit entry and notify
//
// A second run for a key already in flight fails immediately with
// run_in_progress. Failures before the agent reports success leave no run
// directory and no catalog row; failures while pulling artifacts keep the
// partial run on disk with ok: false in its manifest.
//
// Business failures are returned inside RunResult with a stable code
// (unknown_agent, run_in_progress, agent_unreachable, agent_error,
// backup_failed, storage_error); the error return is reserved for database
// faults.
//
// # Scheduling
//
// Schedules are stored as settings values carrying their own agent/stack/site
// fields. Eligible is a pure function of schedule and clock: a daily schedule
// matches its HH:MM minute, an hourly schedule its MM minute, both in UTC.
// FleetSweep asks every registered agent for its current site list, skipping
// agents that do not answer, and runs each listed site whose schedule fires
// in the current minute. The whole sweep is skipped while maintenance mode
// is on.
package orchestrator
