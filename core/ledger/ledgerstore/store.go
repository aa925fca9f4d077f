/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ledgerstore persists chains, blocks, shared keys and the local
// identity in goleveldb.
package ledgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ehrchain/ehrd/common/crypto"
	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/common/ledger/util/leveldbhelper"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("ledgerstore")

const (
	dataDirName    = "ledgersData"
	ledgerDBName   = "ledger"
	identityDBName = "identity"
)

var (
	chainKeyPrefix  = []byte{'c', 0x00}
	blockKeyPrefix  = []byte{'b', 0x00}
	sharedKeyPrefix = []byte{'k', 0x00}
	keySep          = byte(0x00)
	localIdentity   = []byte("local")
)

// Store implements ledger.Store on top of a leveldb provider.
type Store struct {
	provider *leveldbhelper.Provider
	db       *leveldbhelper.DBHandle
	identity *leveldbhelper.DBHandle
}

var _ ledger.Store = (*Store)(nil)

// DataPath returns where the database of a node rooted at fileSystemPath
// lives.
func DataPath(fileSystemPath string) string {
	return filepath.Join(fileSystemPath, dataDirName)
}

// Open opens (creating if needed) the store under dbPath.
func Open(dbPath string) (*Store, error) {
	p, err := leveldbhelper.NewProvider(&leveldbhelper.Conf{DBPath: dbPath})
	if err != nil {
		return nil, cerrors.Persistence("open", err)
	}
	return &Store{
		provider: p,
		db:       p.GetDBHandle(ledgerDBName),
		identity: p.GetDBHandle(identityDBName),
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() {
	s.provider.Close()
}

// HealthCheck fails once the database is closed or unreadable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.identity.Get(localIdentity); err != nil {
		return cerrors.Persistence("health check", err)
	}
	return nil
}

type sharedKeyRecord struct {
	Key    []byte `json:"key"`
	Active bool   `json:"active"`
}

func chainKey(chainID string) []byte {
	return append(append([]byte{}, chainKeyPrefix...), chainID...)
}

func chainRangeKey(prefix []byte, chainID string) []byte {
	k := append(append([]byte{}, prefix...), chainID...)
	return append(k, keySep)
}

func seqKey(prefix []byte, chainID string, seq uint64) []byte {
	k := chainRangeKey(prefix, chainID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(k, buf[:]...)
}

func rangeEnd(start []byte) []byte {
	end := append([]byte{}, start...)
	end[len(end)-1]++
	return end
}

func (s *Store) putJSON(op string, key []byte, v interface{}) error {
	bytes, err := json.Marshal(v)
	if err != nil {
		return cerrors.Persistence(op, err)
	}
	return cerrors.Persistence(op, s.db.Put(key, bytes, true))
}

func (s *Store) getJSON(op string, key []byte, v interface{}) (bool, error) {
	bytes, err := s.db.Get(key)
	if err != nil {
		return false, cerrors.Persistence(op, err)
	}
	if bytes == nil {
		return false, nil
	}
	if err := json.Unmarshal(bytes, v); err != nil {
		return false, cerrors.Persistence(op, errors.Wrapf(err, "corrupt entry at [%x]", key))
	}
	return true, nil
}

// InsertChain stores a chain header.
func (s *Store) InsertChain(chain *ledger.Chain) error {
	return s.putJSON("insert chain", chainKey(chain.ID), chain)
}

// FetchChain returns the header of a chain, active or not.
func (s *Store) FetchChain(chainID string) (*ledger.Chain, error) {
	chain := &ledger.Chain{}
	found, err := s.getJSON("fetch chain", chainKey(chainID), chain)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cerrors.NotFound("chain", chainID)
	}
	return chain, nil
}

// ChainExists reports whether a header is stored for the chain.
func (s *Store) ChainExists(chainID string) (bool, error) {
	bytes, err := s.db.Get(chainKey(chainID))
	if err != nil {
		return false, cerrors.Persistence("chain exists", err)
	}
	return bytes != nil, nil
}

// SetChainActive flips the active flag of a chain.
func (s *Store) SetChainActive(chainID string, active bool) error {
	chain, err := s.FetchChain(chainID)
	if err != nil {
		return err
	}
	chain.Active = active
	return s.InsertChain(chain)
}

// FetchChains returns the active chains ordered by id.
func (s *Store) FetchChains() ([]*ledger.Chain, error) {
	itr, err := s.db.GetIterator(chainKeyPrefix, rangeEnd(chainKeyPrefix))
	if err != nil {
		return nil, cerrors.Persistence("fetch chains", err)
	}
	defer itr.Release()

	chains := []*ledger.Chain{}
	for itr.Next() {
		chain := &ledger.Chain{}
		if err := json.Unmarshal(itr.Value(), chain); err != nil {
			return nil, cerrors.Persistence("fetch chains", errors.Wrapf(err, "corrupt chain entry [%s]", itr.Key()))
		}
		if chain.Active {
			chains = append(chains, chain)
		}
	}
	return chains, cerrors.Persistence("fetch chains", itr.Error())
}

// InsertBlock stores a block, refusing to overwrite an existing one.
func (s *Store) InsertBlock(block *ledger.Block) error {
	key := seqKey(blockKeyPrefix, block.ChainID, block.ID)
	existing, err := s.db.Get(key)
	if err != nil {
		return cerrors.Persistence("insert block", err)
	}
	if existing != nil {
		return cerrors.Persistence("insert block", errors.Errorf("block %d of chain %s already stored", block.ID, block.ChainID))
	}
	return s.putJSON("insert block", key, block)
}

// UpdateBlockCiphertext replaces the data field of a stored block.
func (s *Store) UpdateBlockCiphertext(chainID string, blockID uint64, data string) error {
	block, err := s.FetchBlock(chainID, blockID)
	if err != nil {
		return err
	}
	block.Data = data
	return s.putJSON("update block ciphertext", seqKey(blockKeyPrefix, chainID, blockID), block)
}

// FetchBlock returns a single block.
func (s *Store) FetchBlock(chainID string, blockID uint64) (*ledger.Block, error) {
	block := &ledger.Block{}
	found, err := s.getJSON("fetch block", seqKey(blockKeyPrefix, chainID, blockID), block)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cerrors.NotFound("block", fmt.Sprintf("%s/%d", chainID, blockID))
	}
	return block, nil
}

// FetchAllBlocks returns the blocks of a chain ordered by (timestamp, id).
func (s *Store) FetchAllBlocks(chainID string) ([]*ledger.Block, error) {
	start := chainRangeKey(blockKeyPrefix, chainID)
	itr, err := s.db.GetIterator(start, rangeEnd(start))
	if err != nil {
		return nil, cerrors.Persistence("fetch all blocks", err)
	}
	defer itr.Release()

	blocks := []*ledger.Block{}
	for itr.Next() {
		block := &ledger.Block{}
		if err := json.Unmarshal(itr.Value(), block); err != nil {
			return nil, cerrors.Persistence("fetch all blocks", errors.Wrapf(err, "corrupt block entry of chain %s", chainID))
		}
		blocks = append(blocks, block)
	}
	if err := itr.Error(); err != nil {
		return nil, cerrors.Persistence("fetch all blocks", err)
	}
	// keys are id ordered; a stable sort keeps that order among equal timestamps
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Timestamp < blocks[j].Timestamp })
	return blocks, nil
}

// FetchLastBlock returns the block with the highest id.
func (s *Store) FetchLastBlock(chainID string) (*ledger.Block, error) {
	start := chainRangeKey(blockKeyPrefix, chainID)
	itr, err := s.db.GetIterator(start, rangeEnd(start))
	if err != nil {
		return nil, cerrors.Persistence("fetch last block", err)
	}
	defer itr.Release()

	if !itr.Last() {
		if err := itr.Error(); err != nil {
			return nil, cerrors.Persistence("fetch last block", err)
		}
		return nil, cerrors.NotFound("block", chainID+"/last")
	}
	block := &ledger.Block{}
	if err := json.Unmarshal(itr.Value(), block); err != nil {
		return nil, cerrors.Persistence("fetch last block", errors.Wrapf(err, "corrupt block entry of chain %s", chainID))
	}
	return block, nil
}

func (s *Store) sharedKeys(chainID string) ([]sharedKeyRecord, error) {
	start := chainRangeKey(sharedKeyPrefix, chainID)
	itr, err := s.db.GetIterator(start, rangeEnd(start))
	if err != nil {
		return nil, cerrors.Persistence("fetch shared keys", err)
	}
	defer itr.Release()

	var records []sharedKeyRecord
	for itr.Next() {
		var r sharedKeyRecord
		if err := json.Unmarshal(itr.Value(), &r); err != nil {
			return nil, cerrors.Persistence("fetch shared keys", errors.Wrapf(err, "corrupt shared key entry of chain %s", chainID))
		}
		records = append(records, r)
	}
	return records, cerrors.Persistence("fetch shared keys", itr.Error())
}

// InsertSharedKey appends key as the active version and retires every
// earlier version in the same batch.
func (s *Store) InsertSharedKey(chainID string, key []byte) error {
	records, err := s.sharedKeys(chainID)
	if err != nil {
		return err
	}

	batch := s.db.NewUpdateBatch()
	for seq, r := range records {
		if !r.Active {
			continue
		}
		r.Active = false
		bytes, err := json.Marshal(&r)
		if err != nil {
			return cerrors.Persistence("insert shared key", err)
		}
		batch.Put(seqKey(sharedKeyPrefix, chainID, uint64(seq)), bytes)
	}
	bytes, err := json.Marshal(&sharedKeyRecord{Key: key, Active: true})
	if err != nil {
		return cerrors.Persistence("insert shared key", err)
	}
	batch.Put(seqKey(sharedKeyPrefix, chainID, uint64(len(records))), bytes)
	return cerrors.Persistence("insert shared key", s.db.WriteBatch(batch, true))
}

// GetActiveSharedKey returns the active key of the chain.
func (s *Store) GetActiveSharedKey(chainID string) ([]byte, error) {
	records, err := s.sharedKeys(chainID)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Active {
			return records[i].Key, nil
		}
	}
	return nil, cerrors.NotFound("shared key", chainID)
}

// GetLatestSharedKey returns the most recently stored key of the chain
// whether or not it is still active.
func (s *Store) GetLatestSharedKey(chainID string) ([]byte, error) {
	records, err := s.sharedKeys(chainID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, cerrors.NotFound("shared key", chainID)
	}
	return records[len(records)-1].Key, nil
}

// SharedKeyVersions returns the number of key versions stored for a chain.
func (s *Store) SharedKeyVersions(chainID string) (int, error) {
	records, err := s.sharedKeys(chainID)
	return len(records), err
}

// DeactivateSharedKeys retires every key of the chain.
func (s *Store) DeactivateSharedKeys(chainID string) error {
	records, err := s.sharedKeys(chainID)
	if err != nil {
		return err
	}
	batch := s.db.NewUpdateBatch()
	for seq, r := range records {
		if !r.Active {
			continue
		}
		r.Active = false
		bytes, err := json.Marshal(&r)
		if err != nil {
			return cerrors.Persistence("deactivate shared keys", err)
		}
		batch.Put(seqKey(sharedKeyPrefix, chainID, uint64(seq)), bytes)
	}
	return cerrors.Persistence("deactivate shared keys", s.db.WriteBatch(batch, true))
}

// LocalIdentity returns the stored key pair of this node, generating and
// storing one on first use.
func (s *Store) LocalIdentity() (*crypto.KeyPair, error) {
	bytes, err := s.identity.Get(localIdentity)
	if err != nil {
		return nil, cerrors.Persistence("fetch identity", err)
	}
	if bytes != nil {
		kp := &crypto.KeyPair{}
		if err := json.Unmarshal(bytes, kp); err != nil {
			return nil, cerrors.Persistence("fetch identity", errors.Wrap(err, "corrupt identity entry"))
		}
		return kp, nil
	}

	logger.Info("No local identity found, generating a new key pair")
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	bytes, err = json.Marshal(kp)
	if err != nil {
		return nil, cerrors.Persistence("store identity", err)
	}
	if err := s.identity.Put(localIdentity, bytes, true); err != nil {
		return nil, cerrors.Persistence("store identity", err)
	}
	return kp, nil
}
