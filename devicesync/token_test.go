// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	tokens := NewSessionTokens("test-secret")

	tok, err := tokens.Generate("u1", "d1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := tokens.Validate(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "d1", claims.DeviceID)
	require.Equal(t, "go-devicesync", claims.Issuer)
}

func TestSessionTokenWrongSecretRejected(t *testing.T) {
	tok, err := NewSessionTokens("secret-a").Generate("u1", "d1", time.Hour)
	require.NoError(t, err)

	_, err = NewSessionTokens("secret-b").Validate(tok)
	require.Error(t, err)
}

func TestSessionTokenExpiredRejected(t *testing.T) {
	tokens := NewSessionTokens("test-secret")
	tok, err := tokens.Generate("u1", "d1", -time.Minute)
	require.NoError(t, err)

	_, err = tokens.Validate(tok)
	require.Error(t, err)
}

func TestSessionTokenRequiresIdentifiers(t *testing.T) {
	tokens := NewSessionTokens("test-secret")

	tok, err := tokens.Generate("", "d1", time.Hour)
	require.NoError(t, err)
	_, err = tokens.Validate(tok)
	require.Error(t, err, "missing user id must be rejected")

	tok, err = tokens.Generate("u1", "", time.Hour)
	require.NoError(t, err)
	_, err = tokens.Validate(tok)
	require.Error(t, err, "missing device id must be rejected")
}

func TestTokenFuncMintsValidTokens(t *testing.T) {
	tokens := NewSessionTokens("test-secret")
	fn := tokens.TokenFunc("u1", "d1", time.Hour)

	tok, err := fn(context.Background())
	require.NoError(t, err)
	claims, err := tokens.Validate(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
}
