// ABOUTME: Retention cleanup keeping the newest N backups per site
// ABOUTME: Removes backup directories best-effort, then their catalog rows

package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Baron-Systems/fb/internal/store"
)

// Manager prunes old backups. Depth comes from the retention.keep setting
// at call time so operator changes apply to the next sweep without restart.
type Manager struct {
	store  store.Store
	root   string
	logger *slog.Logger
}

// New creates a retention manager rooted at the backups directory.
func New(st store.Store, root string) *Manager {
	return &Manager{
		store:  st,
		root:   filepath.Clean(root),
		logger: slog.Default().With("component", "retention"),
	}
}

// CleanupSite deletes all but the newest keep backups for one site. The
// on-disk directory is removed first, best effort, then the catalog row.
// The row is removed even when the directory cannot be deleted; the catalog
// is authoritative, directories are advisory, and a stray directory is
// logged for manual cleanup. Returns how many backups were pruned.
func (m *Manager) CleanupSite(ctx context.Context, key store.BackupKey, keep int) (int, error) {
	if keep <= 0 {
		keep = store.DefaultRetentionKeep
	}

	backups, err := m.store.ListBackupsForKey(ctx, key.AgentID, key.Stack, key.Site)
	if err != nil {
		return 0, fmt.Errorf("listing backups for %s/%s/%s: %w", key.AgentID, key.Stack, key.Site, err)
	}
	if len(backups) <= keep {
		return 0, nil
	}

	removed := 0
	for _, b := range backups[keep:] {
		if err := m.removeDir(b.BackupDir); err != nil {
			m.logger.Warn("removing backup directory",
				"backup_id", b.ID, "dir", b.BackupDir, "error", err)
		}
		if err := m.store.DeleteBackup(ctx, b.ID); err != nil {
			m.logger.Warn("deleting backup row", "backup_id", b.ID, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("pruned backups",
			"agent_id", key.AgentID, "stack", key.Stack, "site", key.Site,
			"removed", removed, "keep", keep)
	}
	return removed, nil
}

// CleanupAll prunes every site present in the catalog using the currently
// configured retention depth.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	keep := store.RetentionKeep(ctx, m.store)

	keys, err := m.store.ListBackupKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing backup keys: %w", err)
	}

	total := 0
	for _, key := range keys {
		n, err := m.CleanupSite(ctx, key, keep)
		if err != nil {
			m.logger.Error("cleaning up site",
				"agent_id", key.AgentID, "stack", key.Stack, "site", key.Site, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// DeleteBackup removes a single backup on operator request: the on-disk
// directory first, then the catalog row. The row goes away even when the
// directory cannot be removed, because the operator asked for the record
// to be gone; the stray directory is logged for manual cleanup.
func (m *Manager) DeleteBackup(ctx context.Context, id int64) error {
	b, err := m.store.GetBackup(ctx, id)
	if err != nil {
		return err
	}
	if err := m.removeDir(b.BackupDir); err != nil {
		m.logger.Warn("removing backup directory", "backup_id", id, "dir", b.BackupDir, "error", err)
	}
	return m.store.DeleteBackup(ctx, id)
}

// removeDir deletes a backup directory, refusing paths outside the backups
// root. A row pointing elsewhere is corrupt data, not a deletion order.
func (m *Manager) removeDir(dir string) error {
	clean := filepath.Clean(dir)
	if clean != m.root && !strings.HasPrefix(clean, m.root+string(os.PathSeparator)) {
		return fmt.Errorf("backup dir %s escapes root %s", dir, m.root)
	}
	if err := os.RemoveAll(clean); err != nil {
		return err
	}
	return nil
}
