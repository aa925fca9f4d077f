/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package replication

import (
	"context"
	"encoding/json"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/internal/pkg/comm"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("replication")

// Ledger is the part of the ledger engine that inbound messages mutate.
type Ledger interface {
	GrantKey(chainID string, key []byte) error
	Deactivate(chainID string) error
	ApplyRemote(block *ledger.Block) error
}

// KeyRotator replaces the shared key of a chain and re-encrypts the local
// replica under it.
type KeyRotator interface {
	RotateRemote(chainID string, newKey []byte) (*ledger.RotationReport, error)
}

// Handler serves messages delivered by other peers.
type Handler struct {
	ledger  Ledger
	rotator KeyRotator
	metrics *Metrics
}

// NewHandler returns a Handler that applies inbound messages to l.
func NewHandler(l Ledger, rotator KeyRotator, m *Metrics) *Handler {
	return &Handler{ledger: l, rotator: rotator, metrics: m}
}

var _ comm.DeliverHandler = (*Handler)(nil)

// Deliver decodes a request envelope, handles it and encodes the response.
// Failures are reported in the response body so the caller can tell a
// rejected message from a broken connection.
func (h *Handler) Deliver(ctx context.Context, request []byte) ([]byte, error) {
	env := &Envelope{}
	var resp *Response
	if err := json.Unmarshal(request, env); err != nil {
		logger.Warningf("Malformed message from %s: %s", comm.RemotePeer(ctx), err)
		resp = failure(errors.Wrap(err, "malformed envelope"))
	} else {
		resp = h.Handle(env)
		logger.Debugf("Handled %s from %s, ok=%t", env.Action, comm.RemotePeer(ctx), resp.OK)
	}
	h.metrics.received(env.Action, resp.OK)
	return json.Marshal(resp)
}

// Handle dispatches a decoded envelope.
func (h *Handler) Handle(env *Envelope) *Response {
	var (
		data interface{}
		err  error
	)
	switch env.Action {
	case ActionAddProvider:
		err = h.addProvider(env.Parameters)
	case ActionRemoveProvider, ActionAccessRevoked:
		err = h.accessRevoked(env.Parameters)
	case ActionAddRecord:
		err = h.addRecord(env.Parameters)
	case ActionUpdateSharedKey:
		data, err = h.updateSharedKey(env.Parameters)
	case ActionUpdateChain:
		data, err = h.updateChain(env.Parameters)
	default:
		err = errors.Errorf("unknown action %q", env.Action)
	}
	if err != nil {
		logger.Warningf("Failed handling %s: %s", env.Action, err)
		return failure(err)
	}
	return success(data)
}

func (h *Handler) addProvider(raw json.RawMessage) error {
	params := &SharedKeyParams{}
	if err := decode(raw, params); err != nil {
		return err
	}
	key, err := params.Key()
	if err != nil {
		return err
	}
	if err := h.ledger.GrantKey(params.ChainID, key); err != nil {
		return err
	}
	logger.Infof("Granted access to chain [%s]", params.ChainID)
	return nil
}

func (h *Handler) accessRevoked(raw json.RawMessage) error {
	params := &ChainParams{}
	if err := decode(raw, params); err != nil {
		return err
	}
	return h.ledger.Deactivate(params.ChainID)
}

// addRecord is a notification only; the block itself arrives with the
// update-chain message that follows it.
func (h *Handler) addRecord(raw json.RawMessage) error {
	params := &RecordParams{}
	if err := decode(raw, params); err != nil {
		return err
	}
	logger.Infof("Peer announced record block [%d] on chain [%s]", params.BlockID, params.ChainID)
	return nil
}

func (h *Handler) updateSharedKey(raw json.RawMessage) (*ledger.RotationReport, error) {
	params := &SharedKeyParams{}
	if err := decode(raw, params); err != nil {
		return nil, err
	}
	key, err := params.Key()
	if err != nil {
		return nil, err
	}
	return h.rotator.RotateRemote(params.ChainID, key)
}

func (h *Handler) updateChain(raw json.RawMessage) (*UpdateChainResult, error) {
	params := &UpdateChainParams{}
	if err := decode(raw, params); err != nil {
		return nil, err
	}

	result := &UpdateChainResult{Applied: []uint64{}, Rejected: []Rejection{}}
	for _, block := range params.Blocks {
		if block == nil {
			continue
		}
		if block.ChainID != params.ChainID {
			result.Rejected = append(result.Rejected, Rejection{BlockID: block.ID, Reason: "block belongs to chain " + block.ChainID})
			continue
		}
		if err := h.ledger.ApplyRemote(block); err != nil {
			// blocks already held locally come back as out of order
			logger.Debugf("Block [%d] of chain [%s] not applied: %s", block.ID, block.ChainID, err)
			result.Rejected = append(result.Rejected, Rejection{BlockID: block.ID, Reason: err.Error()})
			continue
		}
		result.Applied = append(result.Applied, block.ID)
	}
	if len(result.Applied) > 0 {
		logger.Infof("Applied %d block(s) to chain [%s]", len(result.Applied), params.ChainID)
	}
	return result, nil
}

func decode(raw json.RawMessage, params interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing parameters")
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return errors.Wrap(err, "malformed parameters")
	}
	return nil
}

func success(data interface{}) *Response {
	if data == nil {
		return &Response{OK: true, Data: json.RawMessage("null")}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return failure(errors.Wrap(err, "failed marshaling response data"))
	}
	return &Response{OK: true, Data: raw}
}

func failure(err error) *Response {
	raw, _ := json.Marshal(err.Error())
	return &Response{OK: false, Data: raw}
}
