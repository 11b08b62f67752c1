// ABOUTME: Tests for path component sanitization and run directory layout
// ABOUTME: Untrusted agent input must never traverse out of the backups root

package orchestrator

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeComponent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "example.com", "example.com"},
		{"allowed punctuation", "user@host-1_x.y", "user@host-1_x.y"},
		{"slashes stripped", "../../etc/passwd", "....etcpasswd"},
		{"spaces stripped", "my site", "mysite"},
		{"empty", "", "unknown"},
		{"only bad chars", "///", "unknown"},
		{"dot", ".", "unknown"},
		{"dotdot", "..", "unknown"},
		{"long input capped", strings.Repeat("a", 300), strings.Repeat("a", 128)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, safeComponent(tt.in))
		})
	}
}

func TestRunDir(t *testing.T) {
	start := time.Date(2026, 8, 24, 3, 0, 5, 0, time.UTC)
	dir := runDir("/backups", "a1", "main", "example.com", start)
	assert.Equal(t, filepath.Join("/backups", "a1", "main", "example.com", "2026-08-24_03-00-05"), dir)
}

func TestRunDir_SanitizesComponents(t *testing.T) {
	start := time.Date(2026, 8, 24, 3, 0, 5, 0, time.UTC)
	dir := runDir("/backups", "../evil", "ma/in", "", start)
	assert.True(t, strings.HasPrefix(dir, "/backups/"))
	assert.NotContains(t, dir, "..")
	assert.Contains(t, dir, "unknown")
}
