// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package wearable

import "errors"

// ErrorCode classifies every failure the Engine can surface. Codes are
// stable; callers branch on the code, never on the description text.
type ErrorCode int

const (
	CodeUnknownError ErrorCode = iota
	CodeBadBLEState
	CodeDeviceDataNotCollected
	CodeWaitingForAPDUResponse
	CodeAPDUPacketCorrupted
	CodeAPDUDataNotFull
	CodeAPDUErrorResponse
	CodeAPDUWrongSequenceID
	CodeAPDUSendingTimeout
	CodeOperationTimeout
	CodeDeviceShouldBeDisconnected
	CodeDeviceShouldBeConnected
	CodeTryLater
	CodeNonAPDUProcessingTimeout
	CodeDeviceWasDisconnected
)

var errorDescriptions = map[ErrorCode]string{
	CodeUnknownError:               "unknown error",
	CodeBadBLEState:                "can not process in current BLE state",
	CodeDeviceDataNotCollected:     "device data has not been collected",
	CodeWaitingForAPDUResponse:     "still waiting for APDU response from device",
	CodeAPDUPacketCorrupted:        "APDU packet corrupted",
	CodeAPDUDataNotFull:            "APDU data is not complete",
	CodeAPDUErrorResponse:          "APDU response with error code",
	CodeAPDUWrongSequenceID:        "received APDU with wrong sequence id",
	CodeAPDUSendingTimeout:         "timeout while waiting for APDU response",
	CodeOperationTimeout:           "operation timeout",
	CodeDeviceShouldBeDisconnected: "device should be disconnected",
	CodeDeviceShouldBeConnected:    "device should be connected",
	CodeTryLater:                   "device is busy, try later",
	CodeNonAPDUProcessingTimeout:   "timeout while processing non-APDU commit",
	CodeDeviceWasDisconnected:      "device was disconnected",
}

// Error is the classified failure type emitted by the Engine.
type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	if desc, ok := errorDescriptions[e.Code]; ok {
		return desc
	}
	return errorDescriptions[CodeUnknownError]
}

// NewError returns the Error for code.
func NewError(code ErrorCode) *Error {
	return &Error{Code: code}
}

// CodeOf extracts the ErrorCode from err. Unclassified errors (including nil
// wrapping chains without an *Error) report CodeUnknownError.
func CodeOf(err error) ErrorCode {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return CodeUnknownError
}
