// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package wearable

import (
	"encoding/hex"
	"encoding/json"
	"time"
)

// APDUResponseState classifies a single APDU exchange outcome.
type APDUResponseState string

const (
	APDUStateProcessed APDUResponseState = "processed"
	APDUStateFailed    APDUResponseState = "failed"
	APDUStateError     APDUResponseState = "error"
	APDUStateExpired   APDUResponseState = "expired"
)

// APDUCommand is a single command unit within an APDU package.
type APDUCommand struct {
	CommandID         string `json:"commandId"`
	GroupID           int    `json:"groupId"`
	SequenceID        int    `json:"sequence"`
	Command           string `json:"command"` // hex-encoded command bytes
	Type              string `json:"type"`
	ContinueOnFailure bool   `json:"continueOnFailure"`
}

// Bytes decodes the hex-encoded command. A decode failure means the package
// arrived corrupted.
func (c *APDUCommand) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(c.Command)
	if err != nil {
		return nil, NewError(CodeAPDUPacketCorrupted)
	}
	return b, nil
}

// APDUResponse is the device's answer to one APDUCommand. Data holds the full
// response including the trailing two status-word bytes.
type APDUResponse struct {
	SequenceID int
	Data       []byte
}

// StatusWord returns the trailing SW1/SW2 bytes, or false when the response
// is too short to carry them.
func (r *APDUResponse) StatusWord() (sw1, sw2 byte, ok bool) {
	if len(r.Data) < 2 {
		return 0, 0, false
	}
	return r.Data[len(r.Data)-2], r.Data[len(r.Data)-1], true
}

// State classifies the response by its ISO 7816 status word: 0x9000 and
// 0x61xx are success, everything else is an error response. A response too
// short to carry a status word is incomplete.
func (r *APDUResponse) State() APDUResponseState {
	sw1, sw2, ok := r.StatusWord()
	if !ok {
		return APDUStateFailed
	}
	if (sw1 == 0x90 && sw2 == 0x00) || sw1 == 0x61 {
		return APDUStateProcessed
	}
	return APDUStateError
}

// APDUPackageState is the aggregate outcome of executing a whole package.
type APDUPackageState string

const (
	PackageProcessed    APDUPackageState = "PROCESSED"
	PackageFailed       APDUPackageState = "FAILED"
	PackageError        APDUPackageState = "ERROR"
	PackageExpired      APDUPackageState = "EXPIRED"
	PackageNotProcessed APDUPackageState = "NOT_PROCESSED"
)

// APDUPackage is an ordered batch of APDU commands delivered by a commit.
// Commands execute in sequence-id order; ApplyResponse records per-command
// results as they arrive.
type APDUPackage struct {
	PackageID  string        `json:"packageId"`
	SEIDBlock  string        `json:"seIdBlock"`
	Commands   []APDUCommand `json:"commandApdus"`
	ValidUntil time.Time     `json:"validUntil"`

	State      APDUPackageState `json:"state,omitempty"`
	Responses  []*APDUResponse  `json:"-"`
	ExecutedAt time.Time        `json:"executedTsEpoch,omitempty"`
}

// Expired reports whether the package's validity window has passed.
func (p *APDUPackage) Expired(now time.Time) bool {
	return !p.ValidUntil.IsZero() && now.After(p.ValidUntil)
}

// ApplyResponse records resp against the command at index i and reports
// whether package execution may continue.
func (p *APDUPackage) ApplyResponse(i int, resp *APDUResponse) (continueExec bool) {
	p.Responses = append(p.Responses, resp)
	switch resp.State() {
	case APDUStateProcessed:
		return true
	default:
		return p.Commands[i].ContinueOnFailure
	}
}

// CommitResult classifies a non-APDU commit outcome.
type CommitResult string

const (
	CommitProcessed CommitResult = "processed"
	CommitSkipped   CommitResult = "skipped"
	CommitFailed    CommitResult = "failed"
)

// SyncCommit is the engine-facing view of a commit: enough for a transport's
// non-APDU hook to act on without pulling in the sync service models.
type SyncCommit struct {
	CommitID   string          `json:"commitId"`
	CommitType string          `json:"commitType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
