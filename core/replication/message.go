/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package replication

import (
	"encoding/hex"
	"encoding/json"

	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/pkg/errors"
)

// Action names a peer to peer message.
type Action string

const (
	ActionAddProvider     Action = "add-provider"
	ActionRemoveProvider  Action = "remove-provider"
	ActionAccessRevoked   Action = "access-revoked"
	ActionAddRecord       Action = "add-record"
	ActionUpdateSharedKey Action = "update-shared-key"
	ActionUpdateChain     Action = "update-chain"
)

// Envelope is a request exchanged between peers.
type Envelope struct {
	Action     Action          `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
}

// Response answers an Envelope.
type Response struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data"`
}

// SharedKeyParams carries a hex encoded shared key for a chain.
type SharedKeyParams struct {
	ChainID   string `json:"chain_id"`
	SharedKey string `json:"shared_key"`
}

// ChainParams names a chain.
type ChainParams struct {
	ChainID string `json:"chain_id"`
}

// RecordParams announces a new add-record block.
type RecordParams struct {
	ChainID string `json:"chain_id"`
	BlockID uint64 `json:"block_id"`
}

// UpdateChainParams carries the full ordered block list of a chain.
type UpdateChainParams struct {
	ChainID string          `json:"chain_id"`
	Blocks  []*ledger.Block `json:"blocks"`
}

// Rejection explains why an inbound block was not applied.
type Rejection struct {
	BlockID uint64 `json:"block_id"`
	Reason  string `json:"reason"`
}

// UpdateChainResult is the data of an update-chain response.
type UpdateChainResult struct {
	Applied  []uint64    `json:"applied"`
	Rejected []Rejection `json:"rejected"`
}

// NewEnvelope serializes params into an envelope for action.
func NewEnvelope(action Action, params interface{}) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed marshaling %s parameters", action)
	}
	return &Envelope{Action: action, Parameters: raw}, nil
}

func sharedKeyEnvelope(action Action, chainID string, key []byte) (*Envelope, error) {
	return NewEnvelope(action, &SharedKeyParams{ChainID: chainID, SharedKey: hex.EncodeToString(key)})
}

// Key decodes the shared key.
func (p *SharedKeyParams) Key() ([]byte, error) {
	key, err := hex.DecodeString(p.SharedKey)
	if err != nil {
		return nil, errors.Wrap(err, "malformed shared key")
	}
	if len(key) == 0 {
		return nil, errors.New("empty shared key")
	}
	return key, nil
}
