// ABOUTME: Tests for the notification recorder
// ABOUTME: Verifies store rows and Telegram delivery against a fake bot API

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baron-Systems/fb/internal/store"
)

func setupRecorder(t *testing.T) (*Recorder, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "fb.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewRecorder(st), st
}

func TestBackupSucceeded_RecordsRow(t *testing.T) {
	r, st := setupRecorder(t)
	ctx := context.Background()

	r.BackupSucceeded(ctx, "a1", "main", "example.com", "/backups/a1/main/example.com/2026-08-24_03-00-00")

	rows, err := st.ListNotifications(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "backup.success", rows[0].Kind)
	assert.Contains(t, rows[0].Message, "example.com")
}

func TestBackupFailed_RecordsRowWithCode(t *testing.T) {
	r, st := setupRecorder(t)
	ctx := context.Background()

	r.BackupFailed(ctx, "a1", "main", "example.com", "agent_unreachable", "dial tcp: connection refused")

	rows, err := st.ListNotifications(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "backup.failure", rows[0].Kind)
	assert.Contains(t, rows[0].Message, "agent_unreachable")
}

func TestBackupFailed_SendsTelegramWhenEnabled(t *testing.T) {
	r, st := setupRecorder(t)
	ctx := context.Background()

	var gotPath string
	var gotChatID, gotText string
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		require.NoError(t, req.ParseForm())
		gotChatID = req.PostFormValue("chat_id")
		gotText = req.PostFormValue("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer fake.Close()

	require.NoError(t, st.SetSetting(ctx, store.SettingTelegramEnabled, true))
	require.NoError(t, st.SetSetting(ctx, store.SettingTelegramToken, "123:abc"))
	require.NoError(t, st.SetSetting(ctx, store.SettingTelegramChatID, "-100200300"))
	r.apiBase = fake.URL

	r.BackupFailed(ctx, "a1", "main", "example.com", "backup_failed", "")

	assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
	assert.Equal(t, "-100200300", gotChatID)
	assert.Contains(t, gotText, "Backup Failed")
}

func TestBackupFailed_NoTelegramWhenDisabled(t *testing.T) {
	r, _ := setupRecorder(t)
	ctx := context.Background()

	called := false
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		called = true
	}))
	defer fake.Close()
	r.apiBase = fake.URL

	r.BackupFailed(ctx, "a1", "main", "example.com", "backup_failed", "")
	assert.False(t, called, "no telegram call without settings")
}
