/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

// Store is the persistence collaborator of the engine. Each call is atomic
// on its own; the engine provides the per-chain serialization that spans
// several calls. Absent entities are reported with a NotFoundError from
// github.com/ehrchain/ehrd/common/errors.
type Store interface {
	InsertChain(chain *Chain) error
	SetChainActive(chainID string, active bool) error
	// FetchChains returns the active chains only.
	FetchChains() ([]*Chain, error)
	FetchChain(chainID string) (*Chain, error)
	ChainExists(chainID string) (bool, error)

	// InsertBlock fails if a block with the same (chain id, id) is stored.
	InsertBlock(block *Block) error
	UpdateBlockCiphertext(chainID string, blockID uint64, data string) error
	FetchBlock(chainID string, blockID uint64) (*Block, error)
	// FetchAllBlocks orders blocks by (timestamp, id).
	FetchAllBlocks(chainID string) ([]*Block, error)
	FetchLastBlock(chainID string) (*Block, error)

	// InsertSharedKey stores key as the active key of the chain and marks
	// every previous key inactive.
	InsertSharedKey(chainID string, key []byte) error
	GetActiveSharedKey(chainID string) ([]byte, error)
	// GetLatestSharedKey returns the most recently stored key, retired or
	// not.
	GetLatestSharedKey(chainID string) ([]byte, error)
	// DeactivateSharedKeys marks every key of the chain inactive. Keys are
	// never deleted.
	DeactivateSharedKeys(chainID string) error
}
