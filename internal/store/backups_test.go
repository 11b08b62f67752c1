// ABOUTME: Tests for backup record store operations
// ABOUTME: Covers ordering within a key, annotation, keys listing and deletion

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTestBackup(t *testing.T, store *SQLiteStore, agentID, stack, site string, ts time.Time) int64 {
	t.Helper()
	id, err := store.InsertBackup(context.Background(), &Backup{
		TS:        ts,
		AgentID:   agentID,
		Stack:     stack,
		Site:      site,
		BackupDir: "/backups/" + agentID + "/" + stack + "/" + site,
		Manifest:  []byte(`{"ok":true}`),
	})
	require.NoError(t, err)
	return id
}

func TestBackupStore_InsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Second)
	id := insertTestBackup(t, store, "a1", "main", "example.com", ts)
	assert.Greater(t, id, int64(0))

	got, err := store.GetBackup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AgentID)
	assert.Equal(t, ts.Unix(), got.TS.Unix())
	assert.JSONEq(t, `{"ok":true}`, string(got.Manifest))
	assert.Nil(t, got.Rating)
	assert.Nil(t, got.Feedback)
}

func TestBackupStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetBackup(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackupStore_ListForKeyNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 3; i++ {
		insertTestBackup(t, store, "a1", "main", "example.com", base.Add(time.Duration(i)*time.Minute))
	}
	// A different key must not leak into the listing.
	insertTestBackup(t, store, "a1", "main", "other.com", base)

	backups, err := store.ListBackupsForKey(ctx, "a1", "main", "example.com")
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.True(t, backups[0].TS.After(backups[1].TS))
	assert.True(t, backups[1].TS.After(backups[2].TS))
}

func TestBackupStore_ListKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertTestBackup(t, store, "a1", "main", "example.com", now)
	insertTestBackup(t, store, "a1", "main", "example.com", now.Add(time.Second))
	insertTestBackup(t, store, "a2", "shop", "store.example", now)

	keys, err := store.ListBackupKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []BackupKey{
		{AgentID: "a1", Stack: "main", Site: "example.com"},
		{AgentID: "a2", Stack: "shop", Site: "store.example"},
	}, keys)
}

func TestBackupStore_Annotate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := insertTestBackup(t, store, "a1", "main", "example.com", time.Now().UTC())

	rating := 4
	feedback := "restore verified"
	require.NoError(t, store.AnnotateBackup(ctx, id, &rating, &feedback))

	got, err := store.GetBackup(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, 4, *got.Rating)
	assert.Equal(t, "restore verified", *got.Feedback)

	// Clearing annotations is allowed.
	require.NoError(t, store.AnnotateBackup(ctx, id, nil, nil))
	got, err = store.GetBackup(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Rating)
	assert.Nil(t, got.Feedback)
}

func TestBackupStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id := insertTestBackup(t, store, "a1", "main", "example.com", time.Now().UTC())
	require.NoError(t, store.DeleteBackup(ctx, id))

	_, err := store.GetBackup(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteBackup(ctx, id), ErrNotFound)
}

func TestBackupStore_ListLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		insertTestBackup(t, store, "a1", "main", "example.com", base.Add(time.Duration(i)*time.Second))
	}

	backups, err := store.ListBackups(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}
