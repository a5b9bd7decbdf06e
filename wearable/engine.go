// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package wearable

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IanHowertonG/go-devicesync/events"
)

// DefaultCommandTimeout bounds every APDU command and non-APDU commit.
const DefaultCommandTimeout = 30 * time.Second

// EngineConfig holds construction-time settings for the Engine.
type EngineConfig struct {
	CommandTimeout time.Duration // zero means DefaultCommandTimeout
	Logger         *slog.Logger  // nil means slog.Default()
}

// completionGuard makes a command's completion fire exactly once no matter
// which of the racing sources (transport callback, timeout, disconnect)
// resolves it first.
type completionGuard struct {
	done atomic.Bool
}

func (g *completionGuard) tryComplete() bool {
	return g.done.CompareAndSwap(false, true)
}

// APDUCompletion receives the single outcome of an APDU command.
type APDUCompletion func(resp *APDUResponse, state APDUResponseState, err error)

// Engine executes commands against the device link one at a time. It owns the
// ConnectionState machine and the single pending-response slot; transports
// feed results back through HandleAPDUResponse and CallCompletionForEvent.
type Engine struct {
	connector  Connector
	hooks      Hooks
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	timeout    time.Duration

	mu             sync.Mutex
	state          ConnectionState
	apduGuard      *completionGuard
	apduCompletion APDUCompletion
	apduTimer      *time.Timer
	apduBinding    *events.Binding // disconnect subscription for the in-flight command
	connectTimer   *time.Timer
}

// NewEngine creates an engine over connector. The optional hook set is fixed
// here; a nil cfg takes all defaults.
func NewEngine(connector Connector, hooks Hooks, cfg *EngineConfig) *Engine {
	timeout := DefaultCommandTimeout
	var logger *slog.Logger
	if cfg != nil {
		if cfg.CommandTimeout > 0 {
			timeout = cfg.CommandTimeout
		}
		logger = cfg.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		connector:  connector,
		hooks:      hooks,
		dispatcher: events.NewDispatcher(logger),
		logger:     logger,
		timeout:    timeout,
		state:      StateNew,
	}
}

// Dispatcher exposes the engine's event channel for external subscribers.
func (e *Engine) Dispatcher() *events.Dispatcher { return e.dispatcher }

// ConnectionState returns the current device link state.
func (e *Engine) ConnectionState() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// DeviceInfo returns the transport's collected device info, if any.
func (e *Engine) DeviceInfo() *Device { return e.connector.DeviceInfo() }

func (e *Engine) transitionState(s ConnectionState) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()

	e.logger.Debug("connection state changed", "state", s.String())
	e.dispatcher.Publish(EventConnectionStateChanged, s)
}

// Connect starts the transport's connect procedure. If the device is already
// connected its state is reset first. When a timeout is supplied and no
// successful connection with collected device info arrives within the window,
// the transport is forced back to its default state and a connection event
// carrying an OperationTimeout error is emitted.
func (e *Engine) Connect(timeout ...time.Duration) {
	if e.connector.IsConnected() {
		e.connector.ResetToDefaultState()
	}
	e.transitionState(StateConnecting)

	if len(timeout) > 0 && timeout[0] > 0 {
		e.mu.Lock()
		if e.connectTimer != nil {
			e.connectTimer.Stop()
		}
		e.connectTimer = time.AfterFunc(timeout[0], e.connectTimedOut)
		e.mu.Unlock()
	}

	e.connector.Connect()
}

func (e *Engine) connectTimedOut() {
	e.mu.Lock()
	connected := e.state == StateConnected || e.state == StateInitialized
	e.connectTimer = nil
	e.mu.Unlock()

	if connected && e.connector.DeviceInfo() != nil {
		return
	}
	e.logger.Warn("device connection timed out")
	e.connector.ResetToDefaultState()
	e.transitionState(StateDisconnected)
	e.dispatcher.Publish(EventDeviceConnected, ConnectionResult{Err: NewError(CodeOperationTimeout)})
}

func (e *Engine) stopConnectTimer() {
	e.mu.Lock()
	if e.connectTimer != nil {
		e.connectTimer.Stop()
		e.connectTimer = nil
	}
	e.mu.Unlock()
}

// Disconnect tears the link down through the transport.
func (e *Engine) Disconnect() {
	e.transitionState(StateDisconnecting)
	e.connector.Disconnect()
}

// ValidateConnection asks the transport whether the current link is usable.
func (e *Engine) ValidateConnection(completion func(valid bool, err error)) {
	e.connector.ValidateConnection(completion)
}

// ExecuteAPDUCommand issues one command to the device. At most one command
// may be outstanding; a second call before the first resolves fails with
// WaitingForApduResponse. The completion fires exactly once: with the
// transport's response, with ApduSendingTimeout after the timeout window, or
// with DeviceWasDisconnected if the link drops first.
func (e *Engine) ExecuteAPDUCommand(cmd *APDUCommand, completion APDUCompletion) {
	e.mu.Lock()
	if e.apduCompletion != nil {
		e.mu.Unlock()
		completion(nil, APDUStateFailed, NewError(CodeWaitingForAPDUResponse))
		return
	}

	if e.hooks.ExecuteAPDUCommand == nil {
		// Transport without a command hook: trivially processed.
		e.mu.Unlock()
		completion(&APDUResponse{SequenceID: cmd.SequenceID, Data: []byte{0x90, 0x00}}, APDUStateProcessed, nil)
		return
	}

	guard := &completionGuard{}
	e.apduGuard = guard
	e.apduCompletion = completion
	e.apduTimer = time.AfterFunc(e.timeout, func() {
		if !guard.tryComplete() {
			return
		}
		e.clearAPDUState()
		e.logger.Warn("APDU command timed out", "sequence", cmd.SequenceID)
		completion(nil, APDUStateExpired, NewError(CodeAPDUSendingTimeout))
	})
	e.apduBinding = e.dispatcher.Subscribe(EventDeviceDisconnected, func(any) {
		if !guard.tryComplete() {
			return
		}
		e.clearAPDUState()
		completion(nil, APDUStateFailed, NewError(CodeDeviceWasDisconnected))
	})
	e.mu.Unlock()

	e.hooks.ExecuteAPDUCommand(cmd)
}

// HandleAPDUResponse resolves the pending command with the transport's
// response. A response arriving after the command already resolved (late
// reply past the timeout, or after a disconnect) is a no-op.
func (e *Engine) HandleAPDUResponse(resp *APDUResponse) {
	e.mu.Lock()
	guard := e.apduGuard
	completion := e.apduCompletion
	e.mu.Unlock()

	if guard == nil || !guard.tryComplete() {
		e.logger.Debug("dropping APDU response with no pending command")
		return
	}
	e.clearAPDUState()
	completion(resp, resp.State(), nil)
}

// clearAPDUState releases the pending-response slot: stops the timeout timer
// and removes the stale disconnect subscription.
func (e *Engine) clearAPDUState() {
	e.mu.Lock()
	if e.apduTimer != nil {
		e.apduTimer.Stop()
		e.apduTimer = nil
	}
	binding := e.apduBinding
	e.apduBinding = nil
	e.apduGuard = nil
	e.apduCompletion = nil
	e.mu.Unlock()

	if binding != nil {
		e.dispatcher.Unsubscribe(binding)
	}
}

// ExecuteAPDUPackage runs every command of pkg in order. When the transport
// supplies a package-level hook the whole package is delegated; otherwise the
// engine executes command by command, validating response sequence ids and
// stopping at the first error response unless the failing command allows
// continuation. The pre/post package hooks run around either path.
func (e *Engine) ExecuteAPDUPackage(pkg *APDUPackage, completion func(*APDUPackage, error)) {
	if pkg.Expired(time.Now()) {
		pkg.State = PackageExpired
		completion(pkg, nil)
		return
	}
	if !e.connector.IsConnected() {
		pkg.State = PackageNotProcessed
		completion(pkg, NewError(CodeDeviceShouldBeConnected))
		return
	}
	for i := range pkg.Commands {
		if _, err := pkg.Commands[i].Bytes(); err != nil {
			pkg.State = PackageError
			completion(pkg, err)
			return
		}
	}

	if e.hooks.OnPreAPDUPackageExecute != nil {
		e.hooks.OnPreAPDUPackageExecute(pkg)
	}

	finish := func(err error) {
		pkg.ExecutedAt = time.Now()
		if e.hooks.OnPostAPDUPackageExecute != nil {
			e.hooks.OnPostAPDUPackageExecute(pkg)
		}
		completion(pkg, err)
	}

	if e.hooks.ExecuteAPDUPackage != nil {
		e.hooks.ExecuteAPDUPackage(pkg, func(result *APDUPackage, err error) {
			if result == nil {
				result = pkg
			}
			if err != nil && result.State == "" {
				result.State = PackageError
			} else if result.State == "" {
				result.State = PackageProcessed
			}
			pkg.ExecutedAt = time.Now()
			if e.hooks.OnPostAPDUPackageExecute != nil {
				e.hooks.OnPostAPDUPackageExecute(result)
			}
			completion(result, err)
		})
		return
	}

	if len(pkg.Commands) == 0 {
		pkg.State = PackageProcessed
		finish(nil)
		return
	}

	var executeFrom func(i int)
	executeFrom = func(i int) {
		if i >= len(pkg.Commands) {
			if pkg.State == "" {
				pkg.State = PackageProcessed
			}
			finish(nil)
			return
		}
		cmd := &pkg.Commands[i]
		e.ExecuteAPDUCommand(cmd, func(resp *APDUResponse, state APDUResponseState, err error) {
			if err != nil {
				switch state {
				case APDUStateExpired:
					pkg.State = PackageExpired
				default:
					pkg.State = PackageFailed
				}
				finish(err)
				return
			}
			if resp.SequenceID != cmd.SequenceID {
				pkg.State = PackageError
				finish(NewError(CodeAPDUWrongSequenceID))
				return
			}
			if state == APDUStateFailed {
				pkg.State = PackageFailed
				finish(NewError(CodeAPDUDataNotFull))
				return
			}
			if !pkg.ApplyResponse(i, resp) {
				pkg.State = PackageError
				finish(NewError(CodeAPDUErrorResponse))
				return
			}
			executeFrom(i + 1)
		})
	}
	executeFrom(0)
}

// ProcessNonAPDUCommit applies a software-only commit through the transport's
// hook. A transport without the hook yields CommitSkipped immediately. While
// pending, the first of {transport callback, device disconnect, timeout}
// resolves the commit; the disconnect and timeout paths both classify as
// NonApduProcessingTimeout.
func (e *Engine) ProcessNonAPDUCommit(commit *SyncCommit, completion func(CommitResult, error)) {
	if e.hooks.ProcessNonAPDUCommit == nil {
		completion(CommitSkipped, nil)
		return
	}

	guard := &completionGuard{}
	watch := &commitWatch{dispatcher: e.dispatcher}

	watch.armBinding(e.dispatcher.Subscribe(EventDeviceDisconnected, func(any) {
		if !guard.tryComplete() {
			return
		}
		watch.settle()
		completion(CommitFailed, NewError(CodeNonAPDUProcessingTimeout))
	}))
	watch.armTimer(time.AfterFunc(e.timeout, func() {
		if !guard.tryComplete() {
			return
		}
		watch.settle()
		e.logger.Warn("non-APDU commit timed out", "commitId", commit.CommitID)
		completion(CommitFailed, NewError(CodeNonAPDUProcessingTimeout))
	}))

	e.hooks.ProcessNonAPDUCommit(commit, func(result CommitResult, err error) {
		if !guard.tryComplete() {
			return
		}
		watch.settle()
		completion(result, err)
	})
}

// commitWatch owns the timeout timer and disconnect subscription backing one
// pending non-APDU commit. Arming and settling are ordered by its mutex, so a
// resolution path never observes a half-armed watch: anything armed after
// settle is torn down on the spot.
type commitWatch struct {
	dispatcher *events.Dispatcher

	mu      sync.Mutex
	settled bool
	timer   *time.Timer
	binding *events.Binding
}

func (w *commitWatch) armBinding(b *events.Binding) {
	w.mu.Lock()
	if w.settled {
		w.mu.Unlock()
		w.dispatcher.Unsubscribe(b)
		return
	}
	w.binding = b
	w.mu.Unlock()
}

func (w *commitWatch) armTimer(t *time.Timer) {
	w.mu.Lock()
	if w.settled {
		w.mu.Unlock()
		t.Stop()
		return
	}
	w.timer = t
	w.mu.Unlock()
}

func (w *commitWatch) settle() {
	w.mu.Lock()
	w.settled = true
	t, b := w.timer, w.binding
	w.timer, w.binding = nil, nil
	w.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	if b != nil {
		w.dispatcher.Unsubscribe(b)
	}
}

// HandleIDVerificationRequest collects app-to-app verification data from the
// transport, or fails with DeviceDataNotCollected when unsupported.
func (e *Engine) HandleIDVerificationRequest(completion func(payload any, err error)) {
	if e.hooks.HandleIDVerificationRequest == nil {
		completion(nil, NewError(CodeDeviceDataNotCollected))
		return
	}
	e.hooks.HandleIDVerificationRequest(completion)
}

// CallCompletionForEvent is the single entry point transports use to surface
// device-originated occurrences. The engine folds connection events into its
// state machine and republishes everything on the dispatcher.
func (e *Engine) CallCompletionForEvent(eventType events.Type, payload any) {
	switch eventType {
	case EventConnectionStateChanged:
		if s, ok := payload.(ConnectionState); ok {
			e.transitionState(s)
		}

	case EventDeviceConnected:
		e.stopConnectTimer()
		res, ok := payload.(ConnectionResult)
		if !ok {
			if dev, isDev := payload.(*Device); isDev {
				res = ConnectionResult{Device: dev}
			}
		}
		if res.Err == nil && res.Device == nil {
			res.Err = NewError(CodeDeviceDataNotCollected)
		}
		if res.Err != nil {
			e.transitionState(StateDisconnected)
		} else {
			e.transitionState(StateConnected)
		}
		e.dispatcher.Publish(EventDeviceConnected, res)

	case EventDeviceDisconnected:
		e.transitionState(StateDisconnected)
		e.dispatcher.Publish(EventDeviceDisconnected, payload)

	default:
		e.dispatcher.Publish(eventType, payload)
	}
}
