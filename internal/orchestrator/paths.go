// ABOUTME: Filesystem layout helpers for backup run directories
// ABOUTME: Sanitizes untrusted key components before they touch a path

package orchestrator

import (
	"path/filepath"
	"regexp"
	"time"
)

// unsafeChars matches everything outside the conservative allowlist for
// path components. Agent IDs, stacks and site names are remote input.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

// maxComponentLen caps a single sanitized path component.
const maxComponentLen = 128

// tsDirLayout names a run directory by its UTC start time.
const tsDirLayout = "2006-01-02_15-04-05"

// safeComponent strips disallowed characters from an untrusted path
// component and caps its length. Values that sanitize to nothing, or to a
// pure dot sequence, become "unknown" rather than an empty or traversing
// path element.
func safeComponent(s string) string {
	clean := unsafeChars.ReplaceAllString(s, "")
	if len(clean) > maxComponentLen {
		clean = clean[:maxComponentLen]
	}
	if clean == "" || clean == "." || clean == ".." {
		return "unknown"
	}
	allDots := true
	for _, r := range clean {
		if r != '.' {
			allDots = false
			break
		}
	}
	if allDots {
		return "unknown"
	}
	return clean
}

// runDir builds the directory for one backup run:
// <root>/<agent>/<stack>/<site>/<utc-timestamp>.
func runDir(root, agentID, stack, site string, start time.Time) string {
	return filepath.Join(root,
		safeComponent(agentID),
		safeComponent(stack),
		safeComponent(site),
		start.UTC().Format(tsDirLayout),
	)
}
