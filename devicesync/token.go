// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokens mints and validates the HS256 session tokens the commit
// service accepts. The user id travels in the standard sub claim, the device
// id in did.
type SessionTokens struct {
	secret []byte
}

// NewSessionTokens creates a token helper over a shared secret.
func NewSessionTokens(secret string) *SessionTokens {
	return &SessionTokens{secret: []byte(secret)}
}

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// Generate mints a session token for userID and deviceID valid for ttl.
func (s *SessionTokens) Generate(userID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-devicesync",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a session token.
func (s *SessionTokens) Validate(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user id) in session token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device id) in session token")
	}
	return claims, nil
}

// TokenFunc returns a TokenFunc that mints a fresh token per request, for
// wiring directly into a Client.
func (s *SessionTokens) TokenFunc(userID, deviceID string, ttl time.Duration) TokenFunc {
	return func(_ context.Context) (string, error) {
		return s.Generate(userID, deviceID, ttl)
	}
}
