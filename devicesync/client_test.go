// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(data))),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(rt roundTripFunc) *Client {
	cfg := DefaultConfig("http://example.com")
	cfg.BackoffMin = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	token := func(context.Context) (string, error) { return "test-token", nil }
	client := NewClient(cfg.BaseURL, token, cfg, nil)
	client.HTTP = &http.Client{Transport: rt}
	return client
}

func TestGetCommits(t *testing.T) {
	var gotReq *http.Request
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotReq = r
		return jsonResponse(200, CommitsPage{
			Commits: []Commit{
				{CommitID: "c1", CommitType: CommitTypeCreditCardCreated},
				{CommitID: "c2", CommitType: CommitTypeAPDUPackage},
			},
			TotalResults: 2,
		}), nil
	})

	page, err := client.GetCommits(context.Background(), "u1", "d1", "c0", 50)
	require.NoError(t, err)
	require.Len(t, page.Commits, 2)
	require.Equal(t, "c1", page.Commits[0].CommitID)

	require.Equal(t, "/users/u1/devices/d1/commits", gotReq.URL.Path)
	require.Equal(t, "c0", gotReq.URL.Query().Get("commitsAfter"))
	require.Equal(t, "50", gotReq.URL.Query().Get("limit"))
	require.Equal(t, "Bearer test-token", gotReq.Header.Get("Authorization"))
}

func TestGetCommitsOmitsEmptyCursor(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		require.False(t, r.URL.Query().Has("commitsAfter"))
		return jsonResponse(200, CommitsPage{}), nil
	})

	page, err := client.GetCommits(context.Background(), "u1", "d1", "", 0)
	require.NoError(t, err)
	require.Empty(t, page.Commits)
}

func TestGetCommitsRetriesOnServerError(t *testing.T) {
	attempts := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return jsonResponse(502, map[string]string{"error": "bad gateway"}), nil
		}
		return jsonResponse(200, CommitsPage{}), nil
	})

	_, err := client.GetCommits(context.Background(), "u1", "d1", "", 0)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestGetCommitsDoesNotRetryClientError(t *testing.T) {
	attempts := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		attempts++
		return jsonResponse(404, map[string]string{"error": "unknown device"}), nil
	})

	_, err := client.GetCommits(context.Background(), "u1", "d1", "", 0)
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestGetCommitsGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		attempts++
		return nil, fmt.Errorf("connection refused")
	})

	_, err := client.GetCommits(context.Background(), "u1", "d1", "", 0)
	require.Error(t, err)
	require.Equal(t, 4, attempts) // initial attempt + 3 retries
}

func TestAcknowledgeCommit(t *testing.T) {
	var gotReq *http.Request
	var gotBody []byte
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotReq = r
		gotBody, _ = io.ReadAll(r.Body)
		return jsonResponse(200, map[string]string{}), nil
	})

	err := client.AcknowledgeCommit(context.Background(), "u1", "d1", "c7", "processed")
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotReq.Method)
	require.Equal(t, "/users/u1/devices/d1/commits/c7/confirm", gotReq.URL.Path)

	var conf commitConfirmation
	require.NoError(t, json.Unmarshal(gotBody, &conf))
	require.Equal(t, "processed", conf.Result)
}

func TestRetryStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(func(*http.Request) (*http.Response, error) {
		cancel()
		return nil, fmt.Errorf("connection refused")
	})
	client.backoffMin = time.Minute // the canceled context must cut the sleep short

	_, err := client.GetCommits(ctx, "u1", "d1", "", 0)
	require.ErrorIs(t, err, context.Canceled)
}
