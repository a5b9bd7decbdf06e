// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var order []int
	d.Subscribe("ping", func(any) { order = append(order, 1) })
	d.Subscribe("ping", func(any) { order = append(order, 2) })
	d.Subscribe("ping", func(any) { order = append(order, 3) })
	d.Subscribe("other", func(any) { order = append(order, 99) })

	d.Publish("ping", nil)
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestPublishPassesPayload(t *testing.T) {
	d := NewDispatcher(nil)

	var got any
	d.Subscribe("ping", func(payload any) { got = payload })
	d.Publish("ping", "hello")
	require.Equal(t, "hello", got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher(nil)

	calls := 0
	b := d.Subscribe("ping", func(any) { calls++ })
	d.Publish("ping", nil)
	d.Unsubscribe(b)
	d.Publish("ping", nil)
	require.Equal(t, 1, calls)

	// Double unsubscribe is a no-op.
	d.Unsubscribe(b)
	d.Unsubscribe(nil)
}

func TestUnsubscribeDuringDeliverySkipsRemovedHandler(t *testing.T) {
	d := NewDispatcher(nil)

	var secondCalls int
	var second *Binding
	d.Subscribe("ping", func(any) { d.Unsubscribe(second) })
	second = d.Subscribe("ping", func(any) { secondCalls++ })

	d.Publish("ping", nil)
	require.Zero(t, secondCalls, "handler removed mid-publish must not fire")
}

func TestUnsubscribeAll(t *testing.T) {
	d := NewDispatcher(nil)

	calls := 0
	d.Subscribe("a", func(any) { calls++ })
	d.Subscribe("b", func(any) { calls++ })
	d.UnsubscribeAll()
	d.Publish("a", nil)
	d.Publish("b", nil)
	require.Zero(t, calls)
}

func TestWithExecutorRunsHandlerThroughExecutor(t *testing.T) {
	d := NewDispatcher(nil)

	var deferred []func()
	exec := func(run func()) { deferred = append(deferred, run) }

	calls := 0
	d.Subscribe("ping", func(any) { calls++ }, WithExecutor(exec))

	d.Publish("ping", nil)
	require.Zero(t, calls, "executor has not run the handler yet")
	require.Len(t, deferred, 1)

	deferred[0]()
	require.Equal(t, 1, calls)
}

func TestExecutorSkipsHandlerUnsubscribedBeforeRun(t *testing.T) {
	d := NewDispatcher(nil)

	var deferred []func()
	exec := func(run func()) { deferred = append(deferred, run) }

	calls := 0
	b := d.Subscribe("ping", func(any) { calls++ }, WithExecutor(exec))

	d.Publish("ping", nil)
	d.Unsubscribe(b)
	deferred[0]()
	require.Zero(t, calls)
}

func TestPublishWithNoSubscribers(t *testing.T) {
	d := NewDispatcher(nil)
	d.Publish("nobody-home", 42)
}
