// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/IanHowertonG/go-devicesync/events"
	"github.com/IanHowertonG/go-devicesync/internal/identity"
	"github.com/IanHowertonG/go-devicesync/wearable"
)

// Sync outcome events published by the Manager.
const (
	// EventSyncCompleted carries a SyncEvent with a nil error.
	EventSyncCompleted events.Type = "syncCompleted"
	// EventSyncFailed carries a SyncEvent whose Err classifies the failure.
	EventSyncFailed events.Type = "syncFailed"
)

// SyncEvent is the payload of sync outcome events.
type SyncEvent struct {
	Request *Request
	Err     error
}

var (
	ErrSyncAlreadyInProgress = errors.New("sync already in progress")
	ErrNoUser                = errors.New("sync request carries no user")
	ErrNoLastUser            = errors.New("no last synced user recorded")
)

// SyncManager performs the actual synchronization work. The RequestQueue
// consumes it only through this interface and its event stream.
type SyncManager interface {
	IsSyncing() bool
	SyncWith(req *Request) error
	SyncWithLastUser() error
	BindToSyncEvent(t events.Type, h events.Handler, opts ...events.SubscribeOption) *events.Binding
	RemoveSyncBinding(b *events.Binding)
}

// Manager is the concrete SyncManager: it fetches pending commits for a
// user/device pair from the commit service, applies them to the device
// through the wearable Engine, journals the applied commits locally, and
// publishes the terminal sync event.
type Manager struct {
	client     *Client
	store      *Store
	engine     *wearable.Engine
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	pageSize   int

	syncing atomic.Bool
}

// NewManager wires a Manager. A nil cfg takes all defaults.
func NewManager(client *Client, store *Store, engine *wearable.Engine, cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := DefaultCommitPageSize
	if cfg != nil && cfg.CommitPageSize > 0 {
		pageSize = cfg.CommitPageSize
	}
	return &Manager{
		client:     client,
		store:      store,
		engine:     engine,
		dispatcher: events.NewDispatcher(logger),
		logger:     logger,
		pageSize:   pageSize,
	}
}

// IsSyncing reports whether a sync is currently running.
func (m *Manager) IsSyncing() bool { return m.syncing.Load() }

// BindToSyncEvent subscribes h to one of the manager's sync events.
func (m *Manager) BindToSyncEvent(t events.Type, h events.Handler, opts ...events.SubscribeOption) *events.Binding {
	return m.dispatcher.Subscribe(t, h, opts...)
}

// RemoveSyncBinding releases a binding returned by BindToSyncEvent.
func (m *Manager) RemoveSyncBinding(b *events.Binding) {
	m.dispatcher.Unsubscribe(b)
}

// SyncWith starts a sync scoped to req's user and device. It fails
// synchronously when the request has no user or a sync is already running;
// otherwise the outcome arrives on the event stream.
func (m *Manager) SyncWith(req *Request) error {
	if req == nil || req.user == nil {
		return ErrNoUser
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return ErrSyncAlreadyInProgress
	}
	go m.run(req)
	return nil
}

// SyncWithLastUser starts a sync for the most recently synced user and
// device, as persisted in the local store.
func (m *Manager) SyncWithLastUser() error {
	userID, deviceID, err := m.store.LastUser(context.Background())
	if err != nil {
		return err
	}
	return m.SyncWith(NewRequest(&User{UserID: userID}, &wearable.Device{DeviceID: deviceID}))
}

func (m *Manager) run(req *Request) {
	defer m.syncing.Store(false)

	ctx := identity.WithUserID(context.Background(), req.user.UserID)
	device := req.device
	if device == nil {
		device = m.engine.DeviceInfo()
	}
	if device == nil || device.DeviceID == "" {
		m.finish(req, wearable.NewError(wearable.CodeDeviceDataNotCollected))
		return
	}
	ctx = identity.WithDeviceID(ctx, device.DeviceID)

	if err := m.validateConnection(); err != nil {
		m.finish(req, err)
		return
	}

	m.logger.Info("sync started", "userId", req.user.UserID, "deviceId", device.DeviceID)
	m.finish(req, m.sync(ctx, req.user.UserID, device.DeviceID))
}

// validateConnection asks the engine whether the device link is usable before
// any commits are pulled. An unusable link fails the sync up front instead of
// surfacing mid-package.
func (m *Manager) validateConnection() error {
	done := make(chan error, 1)
	m.engine.ValidateConnection(func(valid bool, err error) {
		if err != nil {
			done <- err
			return
		}
		if !valid {
			done <- wearable.NewError(wearable.CodeDeviceShouldBeConnected)
			return
		}
		done <- nil
	})
	return <-done
}

func (m *Manager) finish(req *Request, err error) {
	if err != nil {
		m.logger.Warn("sync failed", "error", err)
		m.dispatcher.Publish(EventSyncFailed, SyncEvent{Request: req, Err: err})
		return
	}
	m.logger.Info("sync completed")
	m.dispatcher.Publish(EventSyncCompleted, SyncEvent{Request: req})
}

// sync drains the commit stream for the device, applying and acknowledging
// commits page by page until none remain.
func (m *Manager) sync(ctx context.Context, userID, deviceID string) error {
	lastCommitID, err := m.store.LastCommitID(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("load last commit id: %w", err)
	}

	applied := 0
	for {
		page, err := m.client.GetCommits(ctx, userID, deviceID, lastCommitID, m.pageSize)
		if err != nil {
			return fmt.Errorf("fetch commits: %w", err)
		}
		if len(page.Commits) == 0 {
			break
		}

		for i := range page.Commits {
			commit := &page.Commits[i]
			result, err := m.applyCommit(ctx, commit)
			if err != nil {
				// Confirm the failure so the service can stop replaying the
				// commit, then surface it.
				if ackErr := m.client.AcknowledgeCommit(ctx, userID, deviceID, commit.CommitID, string(wearable.CommitFailed)); ackErr != nil {
					m.logger.Warn("failed to acknowledge commit failure", "commitId", commit.CommitID, "error", ackErr)
				}
				return fmt.Errorf("apply commit %s: %w", commit.CommitID, err)
			}

			if err := m.store.RecordAppliedCommit(ctx, deviceID, commit, string(result)); err != nil {
				return fmt.Errorf("journal commit %s: %w", commit.CommitID, err)
			}
			if err := m.client.AcknowledgeCommit(ctx, userID, deviceID, commit.CommitID, string(result)); err != nil {
				m.logger.Warn("failed to acknowledge commit", "commitId", commit.CommitID, "error", err)
			}
			lastCommitID = commit.CommitID
			applied++
		}
	}

	if err := m.store.SaveLastUser(ctx, userID, deviceID); err != nil {
		return fmt.Errorf("save last user: %w", err)
	}
	m.logger.Info("commits applied", "count", applied, "deviceId", deviceID)
	return nil
}

// applyCommit routes one commit to the device: APDU packages execute through
// the engine's command path, everything else through the transport's non-APDU
// hook. The engine's callback completion is bridged back to this goroutine.
func (m *Manager) applyCommit(ctx context.Context, commit *Commit) (wearable.CommitResult, error) {
	if commit.CommitType == CommitTypeAPDUPackage {
		pkg, err := commit.APDUPackage()
		if err != nil {
			return wearable.CommitFailed, err
		}
		done := make(chan error, 1)
		m.engine.ExecuteAPDUPackage(pkg, func(_ *wearable.APDUPackage, err error) {
			done <- err
		})
		select {
		case err := <-done:
			if err != nil {
				return wearable.CommitFailed, err
			}
			if pkg.State == wearable.PackageExpired {
				return wearable.CommitSkipped, nil
			}
			return wearable.CommitProcessed, nil
		case <-ctx.Done():
			return wearable.CommitFailed, ctx.Err()
		}
	}

	type commitOutcome struct {
		result wearable.CommitResult
		err    error
	}
	done := make(chan commitOutcome, 1)
	m.engine.ProcessNonAPDUCommit(&wearable.SyncCommit{
		CommitID:   commit.CommitID,
		CommitType: string(commit.CommitType),
		Payload:    commit.Payload,
	}, func(result wearable.CommitResult, err error) {
		done <- commitOutcome{result: result, err: err}
	})
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return wearable.CommitFailed, ctx.Err()
	}
}
