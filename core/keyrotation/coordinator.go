/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keyrotation revokes providers from a chain by replacing its shared
// key and re-encrypting every block under the replacement.
package keyrotation

import (
	"bytes"
	"context"

	"github.com/ehrchain/ehrd/common/crypto"
	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/core/replication"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("keyrotation")

// Engine runs a function with exclusive access to one chain.
type Engine interface {
	Exclusive(chainID string, fn func(tx *ledger.Tx) error) error
}

// Distributor hands a rotated key to the remaining providers of a chain and
// tells revoked providers to deactivate their replica.
type Distributor interface {
	Rotate(ctx context.Context, chainID string, revoked []ledger.Provider) (*replication.FanoutReport, error)
}

// Removal is the outcome of RemoveProvider.
type Removal struct {
	Block    *ledger.Block             `json:"-"`
	Revoked  []ledger.Provider         `json:"revoked"`
	Rotation *ledger.RotationReport    `json:"rotation"`
	Fanout   *replication.FanoutReport `json:"fanout"`
}

// Coordinator sequences provider removal and key rotation.
type Coordinator struct {
	engine      Engine
	distributor Distributor
	generateKey func() ([]byte, error)
}

// NewCoordinator creates a Coordinator. distributor may be nil until the
// replicator is built; SetDistributor completes the wiring.
func NewCoordinator(engine Engine, distributor Distributor) *Coordinator {
	return &Coordinator{
		engine:      engine,
		distributor: distributor,
		generateKey: crypto.GenerateKey,
	}
}

// SetDistributor sets the destination of rotated keys.
func (c *Coordinator) SetDistributor(d Distributor) {
	c.distributor = d
}

// RemoveProvider appends a remove-provider block for ip, rotates the shared
// key of the chain and re-encrypts every block under the new key, all while
// holding the chain. The new key is then distributed to the remaining
// providers. Distribution failures do not undo the local rotation.
func (c *Coordinator) RemoveProvider(ctx context.Context, chainID, ip, providerKey string) (*Removal, error) {
	removal := &Removal{}
	err := c.engine.Exclusive(chainID, func(tx *ledger.Tx) error {
		providers, err := tx.DeriveProviders()
		if err != nil {
			return err
		}
		for _, p := range providers {
			if p.IP == ip {
				removal.Revoked = append(removal.Revoked, p)
			}
		}
		if len(removal.Revoked) == 0 {
			return cerrors.NotFound("provider", ip)
		}

		removal.Block, err = tx.Append(ledger.ActionRemoveProvider, map[string]string{ledger.FieldIP: ip}, providerKey)
		if err != nil {
			return err
		}
		removal.Rotation, err = c.rotate(tx)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed removing provider %s from chain %s", ip, chainID)
	}
	logger.Infof("Removed provider %s from chain [%s] at block [%d]", ip, chainID, removal.Block.ID)

	if c.distributor == nil {
		return removal, nil
	}
	removal.Fanout, err = c.distributor.Rotate(ctx, chainID, removal.Revoked)
	if err != nil {
		logger.Errorf("Rotated key of chain [%s] was not distributed: %s", chainID, err)
	}
	return removal, nil
}

// rotate generates a new key, activates it and moves the chain onto it.
func (c *Coordinator) rotate(tx *ledger.Tx) (*ledger.RotationReport, error) {
	oldKey, err := tx.ActiveKey()
	if err != nil {
		return nil, err
	}
	newKey, err := c.generateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed generating shared key")
	}
	if err := tx.ActivateKey(newKey); err != nil {
		return nil, err
	}
	return tx.Reencrypt(oldKey, newKey)
}

// RotateRemote applies a key rotated by another peer: newKey becomes the
// active key and the local replica is re-encrypted from the previously
// active key. Receiving the key that is already active is a no-op.
func (c *Coordinator) RotateRemote(chainID string, newKey []byte) (*ledger.RotationReport, error) {
	var report *ledger.RotationReport
	err := c.engine.Exclusive(chainID, func(tx *ledger.Tx) error {
		oldKey, err := tx.ActiveKey()
		switch {
		case cerrors.IsNotFound(err):
			logger.Infof("No active key for chain [%s], accepting rotated key", chainID)
			return tx.ActivateKey(newKey)
		case err != nil:
			return err
		case bytes.Equal(oldKey, newKey):
			logger.Debugf("Rotated key for chain [%s] already active", chainID)
			return nil
		}

		if err := tx.ActivateKey(newKey); err != nil {
			return err
		}
		report, err = tx.Reencrypt(oldKey, newKey)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed applying rotated key to chain %s", chainID)
	}
	return report, nil
}

var _ replication.KeyRotator = (*Coordinator)(nil)
