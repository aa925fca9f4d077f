/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"bytes"

	"github.com/ehrchain/ehrd/common/crypto"
	cerrors "github.com/ehrchain/ehrd/common/errors"
)

// Tx gives access to a single chain while its mutex is held. It is only
// valid inside the function passed to Engine.Exclusive.
type Tx struct {
	engine  *Engine
	chainID string
}

// ChainID returns the id of the locked chain.
func (tx *Tx) ChainID() string {
	return tx.chainID
}

// Append appends a block to the locked chain.
func (tx *Tx) Append(action Action, fields map[string]string, providerKey string) (*Block, error) {
	return tx.engine.appendBlock(tx.chainID, action, fields, providerKey)
}

// ActiveKey returns the active shared key of the locked chain.
func (tx *Tx) ActiveKey() ([]byte, error) {
	return tx.engine.store.GetActiveSharedKey(tx.chainID)
}

// ActivateKey stores key as the active shared key, retiring the previous
// one.
func (tx *Tx) ActivateKey(key []byte) error {
	return tx.engine.store.InsertSharedKey(tx.chainID, key)
}

// Blocks returns every block of the locked chain ordered by (timestamp, id).
func (tx *Tx) Blocks() ([]*Block, error) {
	return tx.engine.store.FetchAllBlocks(tx.chainID)
}

// DeriveProviders folds the locked chain into its provider set.
func (tx *Tx) DeriveProviders() ([]Provider, error) {
	_, payloads, err := tx.engine.decryptAll(tx.chainID)
	if err != nil {
		return nil, err
	}
	return FoldProviders(payloads), nil
}

// RotationFault records a block left under its previous ciphertext.
type RotationFault struct {
	BlockID uint64 `json:"block_id"`
	Reason  string `json:"reason"`
}

// RotationReport summarizes a re-encryption pass over a chain.
type RotationReport struct {
	ChainID string          `json:"chain_id"`
	Rotated []uint64        `json:"rotated"`
	Skipped []uint64        `json:"skipped"`
	Faults  []RotationFault `json:"faults"`
}

// Clean reports whether every block is now encrypted under the new key.
func (r *RotationReport) Clean() bool {
	return len(r.Faults) == 0
}

// Reencrypt moves every block of the locked chain from oldKey to newKey.
// Only the ciphertext is replaced, and only after the aggregate hash of the
// re-encrypted block is shown to equal the stored one. A block that cannot
// be rotated keeps its ciphertext and is reported as a fault; the pass
// carries on with the remaining blocks. Blocks that already decrypt under
// newKey are skipped, so an interrupted pass can be run again.
func (tx *Tx) Reencrypt(oldKey, newKey []byte) (*RotationReport, error) {
	blocks, err := tx.Blocks()
	if err != nil {
		return nil, err
	}

	report := &RotationReport{
		ChainID: tx.chainID,
		Rotated: []uint64{},
		Skipped: []uint64{},
		Faults:  []RotationFault{},
	}
	for _, b := range blocks {
		rotated, err := tx.reencryptBlock(b, oldKey, newKey)
		switch {
		case err != nil:
			logger.Errorf("Block [%d] of chain [%s] left unrotated: %s", b.ID, tx.chainID, err)
			tx.engine.stats.rotationFaults.Add(1)
			report.Faults = append(report.Faults, RotationFault{BlockID: b.ID, Reason: err.Error()})
		case rotated:
			report.Rotated = append(report.Rotated, b.ID)
		default:
			report.Skipped = append(report.Skipped, b.ID)
		}
	}

	logger.Infof("Re-encrypted chain [%s]: %d rotated, %d skipped, %d faults",
		tx.chainID, len(report.Rotated), len(report.Skipped), len(report.Faults))
	return report, nil
}

func (tx *Tx) reencryptBlock(b *Block, oldKey, newKey []byte) (bool, error) {
	_, plaintext, err := decryptBlock(b, oldKey)
	if err != nil {
		if !bytes.Equal(oldKey, newKey) {
			if _, _, errNew := decryptBlock(b, newKey); errNew == nil {
				return false, nil
			}
		}
		return false, err
	}

	ciphertext, err := crypto.Encrypt(plaintext, newKey)
	if err != nil {
		return false, err
	}
	candidate := *b
	candidate.Data = ciphertext
	if _, _, err := decryptBlock(&candidate, newKey); err != nil {
		return false, err
	}
	if computed := ComputeHash(&candidate); computed != b.Hash {
		return false, &cerrors.IntegrityMismatchError{ChainID: b.ChainID, BlockID: b.ID, Expected: b.Hash, Actual: computed}
	}

	if err := tx.engine.store.UpdateBlockCiphertext(b.ChainID, b.ID, ciphertext); err != nil {
		return false, err
	}
	return true, nil
}
