// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestStoreCreatesMetadataTables(t *testing.T) {
	store := newTestStore(t)

	expectedTables := []string{"_devicesync_last_user", "_devicesync_device_state", "_devicesync_commit_journal"}
	for _, table := range expectedTables {
		var count int
		err := store.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestLastUserRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.LastUser(ctx)
	require.ErrorIs(t, err, ErrNoLastUser)

	require.NoError(t, store.SaveLastUser(ctx, "u1", "d1"))
	userID, deviceID, err := store.LastUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", userID)
	require.Equal(t, "d1", deviceID)

	// A later sync for a different pair replaces the record.
	require.NoError(t, store.SaveLastUser(ctx, "u2", "d2"))
	userID, deviceID, err = store.LastUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "u2", userID)
	require.Equal(t, "d2", deviceID)
}

func TestLastCommitIDDefaultsToEmpty(t *testing.T) {
	store := newTestStore(t)

	commitID, err := store.LastCommitID(context.Background(), "never-synced")
	require.NoError(t, err)
	require.Empty(t, commitID)
}

func TestRecordAppliedCommitAdvancesWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c1 := &Commit{CommitID: "c1", CommitType: CommitTypeCreditCardCreated}
	c2 := &Commit{CommitID: "c2", CommitType: CommitTypeAPDUPackage}

	require.NoError(t, store.RecordAppliedCommit(ctx, "d1", c1, "processed"))
	require.NoError(t, store.RecordAppliedCommit(ctx, "d1", c2, "processed"))

	commitID, err := store.LastCommitID(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "c2", commitID)

	// Watermarks are per device.
	commitID, err = store.LastCommitID(ctx, "d2")
	require.NoError(t, err)
	require.Empty(t, commitID)

	entries, err := store.AppliedCommits(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "c1", entries[0].CommitID)
	require.Equal(t, string(CommitTypeCreditCardCreated), entries[0].CommitType)
	require.Equal(t, "processed", entries[0].Result)
}

func TestRecordAppliedCommitIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c1 := &Commit{CommitID: "c1", CommitType: CommitTypeCreditCardCreated}
	require.NoError(t, store.RecordAppliedCommit(ctx, "d1", c1, "processed"))
	require.NoError(t, store.RecordAppliedCommit(ctx, "d1", c1, "skipped"))

	entries, err := store.AppliedCommits(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "skipped", entries[0].Result)
}
