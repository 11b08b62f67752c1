// ABOUTME: Per-site backup schedules stored in settings
// ABOUTME: Pure minute-resolution eligibility check drives the sweep loop

package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Baron-Systems/fb/internal/store"
)

// Schedule frequencies.
const (
	FreqDaily  = "daily"
	FreqHourly = "hourly"
)

// Schedule configures automatic backups for one (agent, stack, site) key.
// The key fields are carried in the value so enumeration never has to parse
// dotted settings keys, which site names with dots would break.
type Schedule struct {
	AgentID   string `json:"agent_id"`
	Stack     string `json:"stack"`
	Site      string `json:"site"`
	Frequency string `json:"frequency"` // "daily" or "hourly"
	Time      string `json:"time"`      // "HH:MM" for daily, "MM" for hourly
	Enabled   bool   `json:"enabled"`
}

// Key returns the settings key this schedule is stored under.
func (s Schedule) Key() string {
	return store.ScheduleKey(s.AgentID, s.Stack, s.Site)
}

var (
	dailyTimeRe  = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	hourlyTimeRe = regexp.MustCompile(`^[0-5][0-9]$`)
)

// Validate checks the schedule is well-formed.
func (s Schedule) Validate() error {
	if s.AgentID == "" || s.Stack == "" || s.Site == "" {
		return fmt.Errorf("schedule key fields must be set")
	}
	switch s.Frequency {
	case FreqDaily:
		if !dailyTimeRe.MatchString(s.Time) {
			return fmt.Errorf("daily schedule time %q must be HH:MM", s.Time)
		}
	case FreqHourly:
		if !hourlyTimeRe.MatchString(normalizeMinute(s.Time)) {
			return fmt.Errorf("hourly schedule time %q must be MM", s.Time)
		}
	default:
		return fmt.Errorf("unknown schedule frequency %q", s.Frequency)
	}
	return nil
}

// Eligible reports whether the schedule fires in the minute containing now.
// The sweep loop runs once per minute, so minute equality is exactness, not
// a window.
func Eligible(s Schedule, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	now = now.UTC()
	switch s.Frequency {
	case FreqDaily:
		return now.Format("15:04") == s.Time
	case FreqHourly:
		return now.Format("04") == normalizeMinute(s.Time)
	default:
		return false
	}
}

// normalizeMinute accepts either "MM" or "HH:MM" for hourly schedules and
// returns the minute part.
func normalizeMinute(t string) string {
	if i := strings.LastIndex(t, ":"); i >= 0 {
		return t[i+1:]
	}
	return t
}
