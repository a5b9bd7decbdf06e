// Copyright 2025 Ian Howerton
// SPDX-License-Identifier: Apache-2.0

package devicesync

import (
	"encoding/json"
	"fmt"

	"github.com/IanHowertonG/go-devicesync/wearable"
)

// CommitType classifies a unit of account/card state change fetched from the
// commit service.
type CommitType string

const (
	CommitTypeAPDUPackage            CommitType = "APDU_PACKAGE"
	CommitTypeCreditCardCreated      CommitType = "CREDITCARD_CREATED"
	CommitTypeCreditCardActivated    CommitType = "CREDITCARD_ACTIVATED"
	CommitTypeCreditCardDeactivated  CommitType = "CREDITCARD_DEACTIVATED"
	CommitTypeCreditCardReactivated  CommitType = "CREDITCARD_REACTIVATED"
	CommitTypeCreditCardDeleted      CommitType = "CREDITCARD_DELETED"
	CommitTypeSetDefaultCreditCard   CommitType = "SET_DEFAULT_CREDITCARD"
	CommitTypeResetDefaultCreditCard CommitType = "RESET_DEFAULT_CREDITCARD"
)

// Commit is a single pending change for a device, fetched from the commit
// service. APDU_PACKAGE commits carry an APDU package payload; every other
// type is a software-only change applied through the non-APDU path.
type Commit struct {
	CommitID   string          `json:"commitId"`
	CommitType CommitType      `json:"commitType"`
	CreatedTS  int64           `json:"createdTs"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// APDUPackage decodes the commit payload as an APDU package.
func (c *Commit) APDUPackage() (*wearable.APDUPackage, error) {
	if c.CommitType != CommitTypeAPDUPackage {
		return nil, fmt.Errorf("commit %s is %s, not an APDU package", c.CommitID, c.CommitType)
	}
	var pkg wearable.APDUPackage
	if err := json.Unmarshal(c.Payload, &pkg); err != nil {
		return nil, fmt.Errorf("decode APDU package payload: %w", err)
	}
	return &pkg, nil
}

// CommitsPage is the commit service's response to a commits query.
type CommitsPage struct {
	Commits      []Commit `json:"results"`
	TotalResults int      `json:"totalResults"`
}

// commitConfirmation is the body posted to confirm commit application.
type commitConfirmation struct {
	Result string `json:"result"`
}
