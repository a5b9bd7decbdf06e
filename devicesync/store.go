// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store is the local SQLite persistence for sync bookkeeping: the last known
// user/device pair, the last applied commit per device, and the journal of
// applied commits. All sync metadata lives in _devicesync_* tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore initializes the sync metadata schema on db and returns the store.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("initialize devicesync store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func initializeDatabase(db *sql.DB) error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS _devicesync_last_user (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			user_id    TEXT NOT NULL,
			device_id  TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _devicesync_device_state (
			device_id      TEXT PRIMARY KEY,
			last_commit_id TEXT NOT NULL DEFAULT '',
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS _devicesync_commit_journal (
			commit_id   TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL,
			commit_type TEXT NOT NULL,
			result      TEXT NOT NULL,
			applied_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devicesync_journal_device
			ON _devicesync_commit_journal(device_id, applied_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create sync metadata table: %w", err)
		}
	}
	return nil
}

// SaveLastUser records the user/device pair of the most recent successful sync.
func (s *Store) SaveLastUser(ctx context.Context, userID, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _devicesync_last_user (id, user_id, device_id, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			device_id = excluded.device_id,
			updated_at = excluded.updated_at
	`, userID, deviceID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save last user: %w", err)
	}
	return nil
}

// LastUser returns the last synced user/device pair, or ErrNoLastUser when no
// sync has completed yet.
func (s *Store) LastUser(ctx context.Context) (userID, deviceID string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, device_id FROM _devicesync_last_user WHERE id = 1
	`).Scan(&userID, &deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNoLastUser
	}
	if err != nil {
		return "", "", fmt.Errorf("load last user: %w", err)
	}
	return userID, deviceID, nil
}

// LastCommitID returns the id of the last commit applied to deviceID, or the
// empty string when the device has never synced.
func (s *Store) LastCommitID(ctx context.Context, deviceID string) (string, error) {
	var commitID string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_commit_id FROM _devicesync_device_state WHERE device_id = ?
	`, deviceID).Scan(&commitID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load last commit id: %w", err)
	}
	return commitID, nil
}

// RecordAppliedCommit journals an applied commit and advances the device's
// last-commit watermark in one transaction. Idempotent per commit id.
func (s *Store) RecordAppliedCommit(ctx context.Context, deviceID string, commit *Commit, result string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO _devicesync_commit_journal (commit_id, device_id, commit_type, result, applied_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(commit_id) DO UPDATE SET
			result = excluded.result,
			applied_at = excluded.applied_at
	`, commit.CommitID, deviceID, string(commit.CommitType), result, now); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO _devicesync_device_state (device_id, last_commit_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_commit_id = excluded.last_commit_id,
			updated_at = excluded.updated_at
	`, deviceID, commit.CommitID, now); err != nil {
		return fmt.Errorf("advance commit watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

// AppliedCommits returns the journal entries for deviceID in application
// order, newest last.
func (s *Store) AppliedCommits(ctx context.Context, deviceID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_id, commit_type, result, applied_at
		FROM _devicesync_commit_journal
		WHERE device_id = ?
		ORDER BY applied_at, commit_id
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query commit journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var appliedAt int64
		if err := rows.Scan(&e.CommitID, &e.CommitType, &e.Result, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.AppliedAt = time.Unix(appliedAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// JournalEntry is one row of the applied-commit journal.
type JournalEntry struct {
	CommitID   string
	CommitType string
	Result     string
	AppliedAt  time.Time
}
