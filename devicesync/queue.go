// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/IanHowertonG/go-devicesync/events"
)

// DefaultProcessDelay is the grace period before the queue starts the next
// pending request, letting a direct synchronous completion win the race
// against the sync-finished event. Not load-bearing for correctness.
const DefaultProcessDelay = 300 * time.Millisecond

// RequestQueue serializes sync requests. Requests start strictly in FIFO
// order; at most one request is InProgress at any time and it is always the
// head of the queue. Completion is driven by the Manager's syncCompleted and
// syncFailed events; a completed sync also completes any older queued request
// for the same user/device pair with the same outcome.
//
// The application composes one long-lived queue and passes it by reference;
// Close releases its event bindings.
type RequestQueue struct {
	manager SyncManager
	logger  *slog.Logger
	delay   time.Duration

	mu       sync.Mutex
	requests []*Request
	bindings []*events.Binding
}

// NewRequestQueue creates a queue over manager and subscribes to its sync
// outcome events. A nil cfg takes all defaults.
func NewRequestQueue(manager SyncManager, cfg *Config, logger *slog.Logger) *RequestQueue {
	if logger == nil {
		logger = slog.Default()
	}
	delay := DefaultProcessDelay
	if cfg != nil && cfg.ProcessDelay > 0 {
		delay = cfg.ProcessDelay
	}

	q := &RequestQueue{
		manager: manager,
		logger:  logger,
		delay:   delay,
	}
	q.bindings = append(q.bindings,
		manager.BindToSyncEvent(EventSyncCompleted, func(any) {
			q.onSyncFinished(OutcomeSuccess, nil)
		}),
		manager.BindToSyncEvent(EventSyncFailed, func(payload any) {
			var err error
			if ev, ok := payload.(SyncEvent); ok {
				err = ev.Err
			}
			q.onSyncFinished(OutcomeFailed, err)
		}),
	)
	return q
}

// Close releases the queue's event bindings. Requests still queued are left
// untouched; callers should drain before closing.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	bindings := q.bindings
	q.bindings = nil
	q.mu.Unlock()
	for _, b := range bindings {
		q.manager.RemoveSyncBinding(b)
	}
}

// Len reports the number of requests currently queued.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Add appends req to the queue with its completion callback. If the queue was
// empty and no sync is running the request starts immediately; a synchronous
// start failure completes it with the error and keeps the queue draining.
func (q *RequestQueue) Add(req *Request, completion Completion) {
	q.mu.Lock()
	req.completion = completion
	req.setState(StatusPending)
	q.requests = append(q.requests, req)
	startNow := len(q.requests) == 1 && !q.manager.IsSyncing()
	queued := len(q.requests)
	q.mu.Unlock()

	q.logger.Debug("sync request queued", "requestId", req.id.String(), "queued", queued)
	if startNow {
		q.startSync(req)
	}
}

// startSync transitions req to InProgress and asks the manager to sync.
// Only the current pending head may start; stale scheduled attempts for a
// request that already moved are dropped.
func (q *RequestQueue) startSync(req *Request) {
	q.mu.Lock()
	if len(q.requests) == 0 || q.requests[0] != req || req.State() != StatusPending {
		q.mu.Unlock()
		return
	}
	req.markInProgress(time.Now())
	q.mu.Unlock()

	var err error
	if req.user != nil {
		err = q.manager.SyncWith(req)
	} else {
		err = q.manager.SyncWithLastUser()
	}
	if err != nil {
		q.logger.Warn("sync failed to start", "requestId", req.id.String(), "error", err)
		q.completeHead(OutcomeFailed, err)
	}
}

// onSyncFinished handles a sync outcome event. The event is authoritative for
// the head only while the head is InProgress; otherwise it just nudges the
// queue forward, which makes spurious or duplicate events harmless.
func (q *RequestQueue) onSyncFinished(outcome Outcome, err error) {
	q.mu.Lock()
	headInProgress := len(q.requests) > 0 && q.requests[0].State() == StatusInProgress
	q.mu.Unlock()

	if headInProgress {
		q.completeHead(outcome, err)
	} else {
		q.processNext()
	}
}

// completeHead dequeues and completes the head, then coalesces: every
// consecutive queued request that was submitted strictly before the head's
// sync start and targets the same user/device pair is already covered by the
// finished sync, and completes with the same outcome. Callbacks fire outside
// the critical section.
func (q *RequestQueue) completeHead(outcome Outcome, err error) {
	q.mu.Lock()
	if len(q.requests) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.requests[0]
	q.requests = q.requests[1:]
	head.setState(StatusDone)
	completed := []*Request{head}

	for len(q.requests) > 0 {
		next := q.requests[0]
		if !next.requestTime.Before(head.SyncStartTime()) || !next.isSameUserAndDevice(head) {
			break
		}
		q.requests = q.requests[1:]
		next.setState(StatusDone)
		completed = append(completed, next)
	}
	remaining := len(q.requests)
	q.mu.Unlock()

	if len(completed) > 1 {
		q.logger.Debug("coalesced stale sync requests", "count", len(completed)-1)
	}
	for _, r := range completed {
		r.complete(outcome, err)
	}
	if remaining > 0 {
		q.processNext()
	}
}

// processNext schedules a start attempt for the pending head after the
// configured grace period.
func (q *RequestQueue) processNext() {
	q.mu.Lock()
	if len(q.requests) == 0 || q.requests[0].State() != StatusPending {
		q.mu.Unlock()
		return
	}
	req := q.requests[0]
	delay := q.delay
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.startSync(req)
	})
}
