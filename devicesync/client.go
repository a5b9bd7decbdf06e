// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/IanHowertonG/go-devicesync/internal/identity"
)

// TokenFunc supplies the bearer token for commit service requests.
type TokenFunc func(ctx context.Context) (string, error)

// Client is the HTTP client for the commit service. Transient failures
// (network errors and 5xx responses) retry with exponential backoff.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client

	logger     *slog.Logger
	backoffMin time.Duration
	backoffMax time.Duration
	maxRetries int
}

// NewClient creates a commit service client. A nil cfg takes all defaults.
func NewClient(baseURL string, token TokenFunc, cfg *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	backoffMin := 1 * time.Second
	backoffMax := 60 * time.Second
	if cfg != nil {
		if cfg.BackoffMin > 0 {
			backoffMin = cfg.BackoffMin
		}
		if cfg.BackoffMax > 0 {
			backoffMax = cfg.BackoffMax
		}
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		backoffMin: backoffMin,
		backoffMax: backoffMax,
		maxRetries: 3,
	}
}

// GetCommits fetches up to limit commits for the device, strictly after
// afterCommitID (empty means from the beginning of the stream).
func (c *Client) GetCommits(ctx context.Context, userID, deviceID, afterCommitID string, limit int) (*CommitsPage, error) {
	endpoint := fmt.Sprintf("%s/users/%s/devices/%s/commits",
		c.BaseURL, url.PathEscape(userID), url.PathEscape(deviceID))
	query := url.Values{}
	if afterCommitID != "" {
		query.Set("commitsAfter", afterCommitID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var page CommitsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode commits response: %w", err)
	}
	return &page, nil
}

// AcknowledgeCommit confirms how a commit was applied on the device so the
// service stops replaying it.
func (c *Client) AcknowledgeCommit(ctx context.Context, userID, deviceID, commitID, result string) error {
	endpoint := fmt.Sprintf("%s/users/%s/devices/%s/commits/%s/confirm",
		c.BaseURL, url.PathEscape(userID), url.PathEscape(deviceID), url.PathEscape(commitID))
	payload, err := json.Marshal(commitConfirmation{Result: result})
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

// do performs one authorized request with retry on transient failures.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	backoff := c.backoffMin
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithContext(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			if backoff > c.backoffMax {
				backoff = c.backoffMax
			}
		}

		body, retryable, err := c.doOnce(ctx, method, endpoint, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if userID, ok := identity.UserID(ctx); ok {
			c.logger.Debug("retrying commit service request",
				"method", method, "attempt", attempt+1, "userId", userID, "error", err)
		} else {
			c.logger.Debug("retrying commit service request",
				"method", method, "attempt", attempt+1, "error", err)
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload []byte) (body []byte, retryable bool, err error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("commit service request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("commit service returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("commit service returned status %d", resp.StatusCode)
	}
	return body, false, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
