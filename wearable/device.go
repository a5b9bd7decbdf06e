// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

// Package wearable drives the APDU command protocol against a connected
// payment device. The Engine owns the device link state machine and issues
// one command at a time across a pluggable transport (Connector), bounding
// each command with a timeout and resolving it exactly once.
package wearable

import "github.com/IanHowertonG/go-devicesync/events"

// Device describes a connected payment device as collected by the transport.
type Device struct {
	DeviceID         string `json:"deviceId"`
	DeviceName       string `json:"deviceName"`
	SerialNumber     string `json:"serialNumber"`
	FirmwareRevision string `json:"firmwareRevision"`
	SecureElementID  string `json:"secureElementId"`
}

// ConnectionState is the device link state. Transitions are owned exclusively
// by the Engine; every transition is published as EventConnectionStateChanged.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateDisconnecting
	StateInitialized
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Events emitted by the Engine. Transports surface device-originated
// occurrences through Engine.CallCompletionForEvent; external consumers
// subscribe on the Engine's dispatcher.
const (
	// EventConnectionStateChanged carries the new ConnectionState.
	EventConnectionStateChanged events.Type = "connectionStateChanged"
	// EventDeviceConnected carries a ConnectionResult (device info or error).
	EventDeviceConnected events.Type = "deviceConnected"
	// EventDeviceDisconnected carries no payload.
	EventDeviceDisconnected events.Type = "deviceDisconnected"
	// EventNotificationReceived carries the raw notification payload.
	EventNotificationReceived events.Type = "notificationReceived"
	// EventSecurityStateChanged carries the transport's security state value.
	EventSecurityStateChanged events.Type = "securityStateChanged"
	// EventApplicationControlReceived carries the raw application control payload.
	EventApplicationControlReceived events.Type = "applicationControlReceived"
)

// ConnectionResult is the payload of EventDeviceConnected: the collected
// device info on success, a classified error otherwise.
type ConnectionResult struct {
	Device *Device
	Err    error
}
