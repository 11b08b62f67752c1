// ABOUTME: Fleet sweep listing each agent's sites and running eligible ones
// ABOUTME: Maintenance mode suspends scheduled runs without touching manual ones

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/Baron-Systems/fb/internal/store"
)

// FleetSweep asks every registered agent for its sites and runs a backup
// for each site whose schedule fires in the minute containing now. Agents
// that fail the listing call are skipped for this cycle. Returns how many
// runs were attempted. Individual run failures are audited and notified by
// RunBackup; the sweep keeps going.
func (r *Runner) FleetSweep(ctx context.Context, now time.Time) int {
	if store.MaintenanceMode(ctx, r.store) {
		r.logger.Info("maintenance mode on, skipping scheduled backups")
		return 0
	}

	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		r.logger.Error("listing agents for sweep", "error", err)
		return 0
	}

	attempted := 0
	for _, agent := range agents {
		listing, err := r.agents.ListSites(ctx, agent)
		if err != nil {
			// Powered-off hosts are normal; they get the next sweep.
			r.logger.Info("skipping unreachable agent", "agent_id", agent.AgentID, "error", err)
			continue
		}

		for _, ls := range parseSites(listing) {
			sched, ok := r.scheduleFor(ctx, agent.AgentID, ls.stack, ls.site)
			if !ok || !Eligible(sched, now) {
				continue
			}

			attempted++
			result, err := r.RunBackup(ctx, store.AuditActorScheduler, agent.AgentID, ls.stack, ls.site)
			if err != nil {
				r.logger.Error("scheduled backup",
					"agent_id", agent.AgentID, "stack", ls.stack, "site", ls.site, "error", err)
				continue
			}
			if !result.OK {
				r.logger.Info("scheduled backup did not complete",
					"agent_id", agent.AgentID, "stack", ls.stack, "site", ls.site,
					"code", result.Code)
			}
		}
	}
	return attempted
}

type listedSite struct {
	stack string
	site  string
}

// parseSites extracts (stack, site) pairs from an agent's listing envelope,
// {"sites": [{"stack": ..., "site": ...}, ...]}. Entries missing either
// field are ignored.
func parseSites(listing map[string]any) []listedSite {
	raw, _ := listing["sites"].([]any)
	sites := make([]listedSite, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		stack, _ := m["stack"].(string)
		site, _ := m["site"].(string)
		if stack == "" || site == "" {
			continue
		}
		sites = append(sites, listedSite{stack: stack, site: site})
	}
	return sites
}

// scheduleFor loads the schedule for one site. A site without a stored
// schedule never fires.
func (r *Runner) scheduleFor(ctx context.Context, agentID, stack, site string) (Schedule, bool) {
	var sched Schedule
	err := r.store.GetSetting(ctx, store.ScheduleKey(agentID, stack, site), &sched)
	if errors.Is(err, store.ErrNotFound) {
		return Schedule{}, false
	}
	if err != nil {
		r.logger.Warn("loading schedule",
			"agent_id", agentID, "stack", stack, "site", site, "error", err)
		return Schedule{}, false
	}
	return sched, true
}
