// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package wearable

// Connector is the transport driver for a payment device. Implementations
// (BLE, simulator) own the radio; the Engine owns everything above it.
// Transports report results back through Engine.HandleAPDUResponse and
// Engine.CallCompletionForEvent.
type Connector interface {
	IsConnected() bool

	// Connect starts the transport's connect procedure. Completion is
	// reported through CallCompletionForEvent(EventDeviceConnected, ...).
	Connect()

	Disconnect()

	// ResetToDefaultState forces the transport back to its idle state,
	// dropping any in-flight exchange.
	ResetToDefaultState()

	// ValidateConnection checks that the current link is usable.
	ValidateConnection(completion func(valid bool, err error))

	// DeviceInfo returns the collected device info, or nil before collection.
	DeviceInfo() *Device
}

// Hooks enumerates the optional transport operations. A nil field means the
// transport does not support that operation; the Engine treats the absent
// operation as trivially succeeding (a missing ProcessNonAPDUCommit yields
// CommitSkipped, a missing ExecuteAPDUCommand resolves the command as
// processed with an empty response). The set is fixed at Engine construction.
type Hooks struct {
	OnPreAPDUPackageExecute  func(pkg *APDUPackage)
	OnPostAPDUPackageExecute func(pkg *APDUPackage)

	// ExecuteAPDUPackage executes a whole package in one transport round
	// trip. When nil the Engine falls back to per-command execution.
	ExecuteAPDUPackage func(pkg *APDUPackage, completion func(*APDUPackage, error))

	// ExecuteAPDUCommand sends one command; the response must come back
	// through Engine.HandleAPDUResponse.
	ExecuteAPDUCommand func(cmd *APDUCommand)

	// ProcessNonAPDUCommit applies a software-only commit on the device side.
	ProcessNonAPDUCommit func(commit *SyncCommit, completion func(CommitResult, error))

	// HandleIDVerificationRequest collects app-to-app verification data.
	HandleIDVerificationRequest func(completion func(payload any, err error))
}
