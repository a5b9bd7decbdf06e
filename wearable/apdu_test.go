// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package wearable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAPDUResponseState(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want APDUResponseState
	}{
		{"success 9000", []byte{0x01, 0x02, 0x90, 0x00}, APDUStateProcessed},
		{"success 61xx", []byte{0x61, 0x10}, APDUStateProcessed},
		{"error response", []byte{0x6A, 0x80}, APDUStateError},
		{"too short", []byte{0x90}, APDUStateFailed},
		{"empty", nil, APDUStateFailed},
	}

	for _, tc := range cases {
		resp := &APDUResponse{Data: tc.data}
		if got := resp.State(); got != tc.want {
			t.Fatalf("%s: expected %s got %s", tc.name, tc.want, got)
		}
	}
}

func TestAPDUCommandBytes(t *testing.T) {
	cmd := &APDUCommand{Command: "00a4040008a000000151000000"}
	b, err := cmd.Bytes()
	require.NoError(t, err)
	require.Equal(t, byte(0x00), b[0])
	require.Equal(t, byte(0xa4), b[1])

	corrupted := &APDUCommand{Command: "not-hex"}
	_, err = corrupted.Bytes()
	require.Error(t, err)
	require.Equal(t, CodeAPDUPacketCorrupted, CodeOf(err))
}

func TestAPDUPackageExpired(t *testing.T) {
	now := time.Now()
	pkg := &APDUPackage{ValidUntil: now.Add(-time.Minute)}
	require.True(t, pkg.Expired(now))

	pkg.ValidUntil = now.Add(time.Minute)
	require.False(t, pkg.Expired(now))

	// No validity window means never expired.
	pkg.ValidUntil = time.Time{}
	require.False(t, pkg.Expired(now))
}

func TestErrorCodesAreStable(t *testing.T) {
	require.Equal(t, ErrorCode(0), CodeUnknownError)
	require.Equal(t, ErrorCode(3), CodeWaitingForAPDUResponse)
	require.Equal(t, ErrorCode(8), CodeAPDUSendingTimeout)
	require.Equal(t, ErrorCode(13), CodeNonAPDUProcessingTimeout)

	err := NewError(CodeTryLater)
	require.NotEmpty(t, err.Error())
	require.Equal(t, CodeTryLater, CodeOf(err))
	require.Equal(t, CodeUnknownError, CodeOf(nil))
}
