// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

// Package events provides the typed publish/subscribe channel used for all
// cross-component communication in go-devicesync. Producers publish an opaque
// payload under a string event type; consumers subscribe per type and receive
// an unsubscribe token for scoped teardown.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Type tags an event. Owning packages declare their own constants
// (e.g. "syncCompleted", "deviceDisconnected").
type Type string

// Handler receives the payload a producer published.
type Handler func(payload any)

// Executor runs a handler invocation. The default executor runs inline on the
// publisher's goroutine; callers that need delivery on a particular loop
// supply their own.
type Executor func(run func())

// Binding is the opaque token returned by Subscribe. The owner must keep it
// to unsubscribe individually; UnsubscribeAll releases every binding at once.
type Binding struct {
	eventType Type
	handler   Handler
	exec      Executor
	removed   atomic.Bool
}

// SubscribeOption customizes a single subscription.
type SubscribeOption func(*Binding)

// WithExecutor delivers this binding's events through exec instead of
// invoking the handler inline.
func WithExecutor(exec Executor) SubscribeOption {
	return func(b *Binding) {
		if exec != nil {
			b.exec = exec
		}
	}
}

// Dispatcher routes published events to subscribed handlers.
// Safe for concurrent use.
type Dispatcher struct {
	mu       sync.Mutex
	bindings map[Type][]*Binding
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil logger falls back to slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bindings: make(map[Type][]*Binding),
		logger:   logger,
	}
}

// Subscribe registers handler for eventType and returns the binding token.
func (d *Dispatcher) Subscribe(eventType Type, handler Handler, opts ...SubscribeOption) *Binding {
	b := &Binding{
		eventType: eventType,
		handler:   handler,
		exec:      func(run func()) { run() },
	}
	for _, opt := range opts {
		opt(b)
	}

	d.mu.Lock()
	d.bindings[eventType] = append(d.bindings[eventType], b)
	d.mu.Unlock()
	return b
}

// Unsubscribe releases a single binding. Safe to call more than once and
// safe to call from inside a handler; an in-flight publish will not invoke
// the binding after it returns.
func (d *Dispatcher) Unsubscribe(b *Binding) {
	if b == nil {
		return
	}
	b.removed.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.bindings[b.eventType]
	for i, cur := range list {
		if cur == b {
			d.bindings[b.eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(d.bindings[b.eventType]) == 0 {
		delete(d.bindings, b.eventType)
	}
}

// UnsubscribeAll releases every binding on the dispatcher.
func (d *Dispatcher) UnsubscribeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, list := range d.bindings {
		for _, b := range list {
			b.removed.Store(true)
		}
	}
	d.bindings = make(map[Type][]*Binding)
}

// Publish delivers payload to every handler subscribed to eventType at the
// time of the call, in subscription order. Bindings removed while delivery is
// in flight are skipped.
func (d *Dispatcher) Publish(eventType Type, payload any) {
	d.mu.Lock()
	list := d.bindings[eventType]
	snapshot := make([]*Binding, len(list))
	copy(snapshot, list)
	d.mu.Unlock()

	if len(snapshot) == 0 {
		d.logger.Debug("event published with no subscribers", "event", string(eventType))
		return
	}

	for _, b := range snapshot {
		if b.removed.Load() {
			continue
		}
		handler := b.handler
		b.exec(func() {
			if b.removed.Load() {
				return
			}
			handler(payload)
		})
	}
}
