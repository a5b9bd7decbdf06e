// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

// Package devicesync coordinates synchronization sessions between an
// application, a user's account state on the commit service, and a connected
// payment device. The RequestQueue serializes competing sync requests for the
// same user/device pair; the Manager performs the actual sync work, applying
// fetched commits through the wearable Engine.
package devicesync

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IanHowertonG/go-devicesync/wearable"
)

// Outcome is the terminal result delivered to a request's completion.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Status is a request's lifecycle state. It only ever moves forward:
// Pending -> InProgress -> Done.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// Completion receives a request's single terminal outcome.
type Completion func(outcome Outcome, err error)

// User identifies the account a sync request is scoped to.
type User struct {
	UserID string `json:"userId"`
}

// Request is one pending synchronization request. Once submitted to a
// RequestQueue the queue owns it exclusively; the caller observes it only
// through the completion callback, which fires exactly once.
type Request struct {
	id          uuid.UUID
	requestTime time.Time

	// mu guards the lifecycle fields, which the queue advances from its own
	// goroutines while the submitter may still be polling the accessors.
	mu            sync.Mutex
	syncStartTime time.Time
	state         Status

	completion Completion

	user   *User
	device *wearable.Device

	completeOnce sync.Once
}

// NewRequest creates a pending request for user and device. Either may be nil:
// a request without a user syncs the last known user, and a request without
// device info targets whatever device the engine currently holds.
func NewRequest(user *User, device *wearable.Device) *Request {
	return &Request{
		id:          uuid.New(),
		requestTime: time.Now(),
		state:       StatusPending,
		user:        user,
		device:      device,
	}
}

func (r *Request) ID() uuid.UUID          { return r.id }
func (r *Request) RequestTime() time.Time { return r.requestTime }
func (r *Request) User() *User            { return r.user }
func (r *Request) Device() *wearable.Device {
	return r.device
}

// State returns the request's current lifecycle state.
func (r *Request) State() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SyncStartTime is zero until the request transitions to InProgress.
func (r *Request) SyncStartTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncStartTime
}

func (r *Request) setState(s Status) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// isSameUserAndDevice reports whether both requests target the same user and
// the same device. Absent identifiers never match.
func (r *Request) isSameUserAndDevice(other *Request) bool {
	if r.user == nil || other.user == nil || r.device == nil || other.device == nil {
		return false
	}
	return r.user.UserID == other.user.UserID && r.device.DeviceID == other.device.DeviceID
}

// markInProgress records the one-shot transition to InProgress.
func (r *Request) markInProgress(now time.Time) {
	r.mu.Lock()
	r.state = StatusInProgress
	r.syncStartTime = now
	r.mu.Unlock()
}

// complete delivers the terminal outcome exactly once.
func (r *Request) complete(outcome Outcome, err error) {
	r.completeOnce.Do(func() {
		if r.completion != nil {
			r.completion(outcome, err)
		}
	})
}
