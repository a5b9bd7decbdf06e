// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultCommitPageSize is the commits-per-page fetch size.
const DefaultCommitPageSize = 100

// Config holds settings shared across the sync components.
type Config struct {
	// BaseURL of the commit service, e.g. "https://api.fit-pay.com".
	BaseURL string

	// CommitPageSize caps how many commits one GetCommits call returns.
	CommitPageSize int

	// CommandTimeout bounds APDU commands and non-APDU commits.
	CommandTimeout time.Duration

	// ProcessDelay is the queue's grace period before starting the next
	// pending request.
	ProcessDelay time.Duration

	// BackoffMin/BackoffMax bound the commit service retry backoff.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultConfig returns the standard configuration for baseURL.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:        baseURL,
		CommitPageSize: DefaultCommitPageSize,
		CommandTimeout: 30 * time.Second,
		ProcessDelay:   DefaultProcessDelay,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
	}
}

// LoadConfig builds a Config from the environment, reading an optional .env
// file first. DEVICESYNC_BASE_URL is required; the rest fall back to defaults.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	baseURL := os.Getenv("DEVICESYNC_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("DEVICESYNC_BASE_URL is not set")
	}
	cfg := DefaultConfig(baseURL)

	if v := os.Getenv("DEVICESYNC_COMMIT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid DEVICESYNC_COMMIT_PAGE_SIZE %q", v)
		}
		cfg.CommitPageSize = n
	}
	if v := os.Getenv("DEVICESYNC_COMMAND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid DEVICESYNC_COMMAND_TIMEOUT %q", v)
		}
		cfg.CommandTimeout = d
	}
	if v := os.Getenv("DEVICESYNC_PROCESS_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid DEVICESYNC_PROCESS_DELAY %q", v)
		}
		cfg.ProcessDelay = d
	}
	return cfg, nil
}
