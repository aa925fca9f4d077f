/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"code.cloudfoundry.org/clock"
	"github.com/ehrchain/ehrd/common/crypto"
	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/common/metrics"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("ledger")

// Engine builds, validates and persists blocks and derives the decrypted
// views of a chain. Every operation on a chain runs under that chain's
// mutex, so appends, inbound blocks and re-encryption never interleave.
type Engine struct {
	store Store
	clock clock.Clock
	locks *chainLocks
	stats *stats
}

// NewEngine returns an engine persisting through store and stamping blocks
// with clk.
func NewEngine(store Store, clk clock.Clock, metricsProvider metrics.Provider) *Engine {
	return &Engine{
		store: store,
		clock: clk,
		locks: newChainLocks(),
		stats: newStats(metricsProvider),
	}
}

// Exclusive runs fn with the chain's mutex held. fn must only touch the
// chain through tx.
func (e *Engine) Exclusive(chainID string, fn func(tx *Tx) error) error {
	unlock := e.locks.lock(chainID)
	defer unlock()
	return fn(&Tx{engine: e, chainID: chainID})
}

// CreateChain stores a new active chain with a freshly generated shared key
// and appends its genesis block carrying the identity fields, followed by an
// add-provider block for each of owners. Nothing else can touch the chain
// before all of these blocks are in place.
func (e *Engine) CreateChain(chain *Chain, providerKey string, owners ...Provider) (*Block, error) {
	var genesis *Block
	err := e.Exclusive(chain.ID, func(tx *Tx) error {
		exists, err := e.store.ChainExists(chain.ID)
		if err != nil {
			return err
		}
		if exists {
			return errors.Errorf("chain %s already exists", chain.ID)
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}

		header := *chain
		header.Active = true
		if err := e.store.InsertChain(&header); err != nil {
			return err
		}
		if err := e.store.InsertSharedKey(chain.ID, key); err != nil {
			return err
		}

		genesis, err = tx.Append(ActionGenesis, map[string]string{
			FieldFirstName:   chain.FirstName,
			FieldLastName:    chain.LastName,
			FieldDateOfBirth: chain.DateOfBirth,
		}, providerKey)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if _, err := tx.Append(ActionAddProvider, map[string]string{FieldName: owner.Name, FieldIP: owner.IP}, providerKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed creating chain %s", chain.ID)
	}
	logger.Infof("Created chain [%s]", chain.ID)
	return genesis, nil
}

// Append builds a block for action and fields, encrypts it under the active
// shared key of the chain and persists it after the last block.
func (e *Engine) Append(chainID string, action Action, fields map[string]string, providerKey string) (*Block, error) {
	var block *Block
	err := e.Exclusive(chainID, func(tx *Tx) error {
		var err error
		block, err = tx.Append(action, fields, providerKey)
		return err
	})
	return block, err
}

func (e *Engine) appendBlock(chainID string, action Action, fields map[string]string, providerKey string) (*Block, error) {
	key, err := e.store.GetActiveSharedKey(chainID)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot append %s block to chain %s", action, chainID)
	}

	id, previousHash := uint64(0), GenesisPreviousHash
	last, err := e.store.FetchLastBlock(chainID)
	switch {
	case err == nil && action == ActionGenesis:
		return nil, errors.Errorf("chain %s already has a genesis block", chainID)
	case err == nil:
		id, previousHash = last.ID+1, last.Hash
	case !cerrors.IsNotFound(err):
		return nil, err
	case action != ActionGenesis:
		return nil, errors.WithMessagef(err, "cannot append %s block to empty chain %s", action, chainID)
	}

	if fields == nil {
		fields = map[string]string{}
	}
	plaintext, err := json.Marshal(&BlockData{Action: action, Fields: fields})
	if err != nil {
		return nil, errors.Wrap(err, "failed marshaling block data")
	}
	ciphertext, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}

	block := &Block{
		ChainID:      chainID,
		ID:           id,
		Timestamp:    e.clock.Now().UnixNano(),
		Data:         ciphertext,
		PreviousHash: previousHash,
		ProviderKey:  providerKey,
		DataHash:     crypto.Hash(plaintext),
	}
	block.Hash = ComputeHash(block)

	if err := e.store.InsertBlock(block); err != nil {
		return nil, err
	}
	e.stats.appended(action)
	logger.Debugf("Appended %s block [%d] to chain [%s]", action, block.ID, chainID)
	return block, nil
}

// ApplyRemote ingests a block produced by another peer. The block is
// accepted only if it extends the local chain by exactly one, or if it is
// the genesis block of a chain unknown locally that decrypts under a key
// already granted for it. Everything else is rejected without mutation.
func (e *Engine) ApplyRemote(block *Block) error {
	if block == nil {
		return errors.New("nil block")
	}
	unlock := e.locks.lock(block.ChainID)
	defer unlock()

	exists, err := e.store.ChainExists(block.ChainID)
	if err != nil {
		return err
	}
	if !exists {
		return e.bootstrap(block)
	}

	expected, previousHash := uint64(0), GenesisPreviousHash
	last, err := e.store.FetchLastBlock(block.ChainID)
	switch {
	case err == nil:
		expected, previousHash = last.ID+1, last.Hash
	case !cerrors.IsNotFound(err):
		return err
	}

	if block.ID != expected {
		e.stats.rejected("out_of_order")
		return &cerrors.OutOfOrderBlockError{ChainID: block.ChainID, Expected: expected, Got: block.ID}
	}
	if err := e.checkLinkage(block, previousHash); err != nil {
		return err
	}
	if err := e.store.InsertBlock(block); err != nil {
		return err
	}
	e.stats.appended("remote")
	logger.Debugf("Applied remote block [%d] to chain [%s]", block.ID, block.ChainID)
	return nil
}

func (e *Engine) bootstrap(block *Block) error {
	if block.ID != 0 {
		e.stats.rejected("out_of_order")
		return &cerrors.OutOfOrderBlockError{ChainID: block.ChainID, Expected: 0, Got: block.ID}
	}
	key, err := e.store.GetActiveSharedKey(block.ChainID)
	if err != nil {
		e.stats.rejected("no_key")
		return errors.WithMessagef(err, "cannot bootstrap chain %s", block.ChainID)
	}
	data, _, err := decryptBlock(block, key)
	if err != nil {
		e.stats.rejected("decryption")
		return errors.WithMessagef(err, "cannot bootstrap chain %s", block.ChainID)
	}
	if data.Action != ActionGenesis {
		e.stats.rejected("not_genesis")
		return errors.Errorf("cannot bootstrap chain %s from a %s block", block.ChainID, data.Action)
	}
	if err := e.checkLinkage(block, GenesisPreviousHash); err != nil {
		return err
	}

	chain := &Chain{
		ID:          block.ChainID,
		FirstName:   data.Fields[FieldFirstName],
		LastName:    data.Fields[FieldLastName],
		DateOfBirth: data.Fields[FieldDateOfBirth],
		Active:      true,
	}
	if err := e.store.InsertChain(chain); err != nil {
		return err
	}
	if err := e.store.InsertBlock(block); err != nil {
		return err
	}
	e.stats.appended(ActionGenesis)
	logger.Infof("Bootstrapped chain [%s] from remote genesis block", block.ChainID)
	return nil
}

func (e *Engine) checkLinkage(block *Block, previousHash string) error {
	if block.PreviousHash != previousHash {
		e.stats.rejected("integrity")
		return &cerrors.IntegrityMismatchError{ChainID: block.ChainID, BlockID: block.ID, Expected: previousHash, Actual: block.PreviousHash}
	}
	if computed := ComputeHash(block); computed != block.Hash {
		e.stats.rejected("integrity")
		return &cerrors.IntegrityMismatchError{ChainID: block.ChainID, BlockID: block.ID, Expected: block.Hash, Actual: computed}
	}
	return nil
}

// GrantKey stores key as the active shared key of the chain. When the chain
// is already known locally, for instance after access was revoked and then
// granted again, the chain is reactivated and its blocks are moved from the
// most recent key held for it to key.
func (e *Engine) GrantKey(chainID string, key []byte) error {
	return e.Exclusive(chainID, func(tx *Tx) error {
		exists, err := e.store.ChainExists(chainID)
		if err != nil {
			return err
		}
		var previous []byte
		if exists {
			previous, err = e.store.GetLatestSharedKey(chainID)
			if err != nil && !cerrors.IsNotFound(err) {
				return err
			}
		}
		if err := tx.ActivateKey(key); err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if previous != nil && !bytes.Equal(previous, key) {
			report, err := tx.Reencrypt(previous, key)
			if err != nil {
				return err
			}
			if !report.Clean() {
				logger.Warningf("Chain [%s] granted with %d block(s) left under the retired key", chainID, len(report.Faults))
			}
		}
		return e.store.SetChainActive(chainID, true)
	})
}

// Deactivate marks the local replica of the chain inactive and retires all
// of its shared keys. Blocks and keys are kept.
func (e *Engine) Deactivate(chainID string) error {
	return e.Exclusive(chainID, func(tx *Tx) error {
		exists, err := e.store.ChainExists(chainID)
		if err != nil {
			return err
		}
		if !exists {
			return cerrors.NotFound("chain", chainID)
		}
		if err := e.store.SetChainActive(chainID, false); err != nil {
			return err
		}
		if err := e.store.DeactivateSharedKeys(chainID); err != nil {
			return err
		}
		logger.Infof("Access to chain [%s] revoked, replica deactivated", chainID)
		return nil
	})
}

// ActiveKey returns the active shared key of the chain.
func (e *Engine) ActiveKey(chainID string) ([]byte, error) {
	var key []byte
	err := e.Exclusive(chainID, func(tx *Tx) error {
		var err error
		key, err = tx.ActiveKey()
		return err
	})
	return key, err
}

// Chains returns the active chains held locally.
func (e *Engine) Chains() ([]*Chain, error) {
	return e.store.FetchChains()
}

// Blocks returns every block of the chain ordered by (timestamp, id).
func (e *Engine) Blocks(chainID string) ([]*Block, error) {
	var blocks []*Block
	err := e.Exclusive(chainID, func(tx *Tx) error {
		var err error
		blocks, err = tx.Blocks()
		return err
	})
	return blocks, err
}

// DeriveProviders replays the chain in timestamp order and returns the
// currently authorized providers.
func (e *Engine) DeriveProviders(chainID string) ([]Provider, error) {
	var providers []Provider
	err := e.Exclusive(chainID, func(tx *Tx) error {
		var err error
		providers, err = tx.DeriveProviders()
		return err
	})
	return providers, err
}

func (e *Engine) decryptAll(chainID string) ([]*Block, []*BlockData, error) {
	key, err := e.store.GetActiveSharedKey(chainID)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := e.store.FetchAllBlocks(chainID)
	if err != nil {
		return nil, nil, err
	}
	payloads := make([]*BlockData, 0, len(blocks))
	for _, b := range blocks {
		data, _, err := decryptBlock(b, key)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "failed reading block %d of chain %s", b.ID, chainID)
		}
		payloads = append(payloads, data)
	}
	return blocks, payloads, nil
}

// ReadPatientView decrypts the whole chain with its active key and projects
// the identity fields, the provider set and the record index.
func (e *Engine) ReadPatientView(chainID string) (*PatientView, error) {
	unlock := e.locks.lock(chainID)
	defer unlock()

	blocks, payloads, err := e.decryptAll(chainID)
	if err != nil {
		return nil, err
	}
	view := &PatientView{
		ChainID:   chainID,
		Providers: FoldProviders(payloads),
		Records:   []RecordRef{},
	}
	for i, data := range payloads {
		switch data.Action {
		case ActionGenesis:
			view.FirstName = data.Fields[FieldFirstName]
			view.LastName = data.Fields[FieldLastName]
			view.DateOfBirth = data.Fields[FieldDateOfBirth]
		case ActionAddRecord:
			view.Records = append(view.Records, RecordRef{
				Timestamp: blocks[i].Timestamp,
				Subject:   data.Fields[FieldSubject],
				BlockID:   blocks[i].ID,
			})
		}
	}
	return view, nil
}

// ReadRecord decrypts a single add-record block.
func (e *Engine) ReadRecord(chainID string, blockID uint64) (*Record, error) {
	unlock := e.locks.lock(chainID)
	defer unlock()

	key, err := e.store.GetActiveSharedKey(chainID)
	if err != nil {
		return nil, err
	}
	block, err := e.store.FetchBlock(chainID, blockID)
	if err != nil {
		return nil, err
	}
	data, _, err := decryptBlock(block, key)
	if err != nil {
		return nil, err
	}
	if data.Action != ActionAddRecord {
		return nil, cerrors.NotFound("record", fmt.Sprintf("%s/%d", chainID, blockID))
	}
	return &Record{
		BlockID:     block.ID,
		Timestamp:   block.Timestamp,
		ProviderKey: block.ProviderKey,
		Fields:      data.Fields,
	}, nil
}

// Verify checks that block ids are contiguous from zero, that every block
// links to its predecessor and that every stored hash matches its
// recomputation. No key is needed.
func (e *Engine) Verify(chainID string) error {
	unlock := e.locks.lock(chainID)
	defer unlock()

	blocks, err := e.store.FetchAllBlocks(chainID)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return cerrors.NotFound("block", chainID+"/0")
	}
	sorted := make([]*Block, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	previousHash := GenesisPreviousHash
	for i, b := range sorted {
		if b.ID != uint64(i) {
			return &cerrors.OutOfOrderBlockError{ChainID: chainID, Expected: uint64(i), Got: b.ID}
		}
		if b.PreviousHash != previousHash {
			return &cerrors.IntegrityMismatchError{ChainID: chainID, BlockID: b.ID, Expected: previousHash, Actual: b.PreviousHash}
		}
		if computed := ComputeHash(b); computed != b.Hash {
			return &cerrors.IntegrityMismatchError{ChainID: chainID, BlockID: b.ID, Expected: b.Hash, Actual: computed}
		}
		previousHash = b.Hash
	}
	return nil
}

// decryptBlock returns the payload of b and its serialized plaintext. A
// plaintext whose digest differs from DataHash is reported as a decryption
// failure, which catches wrong keys that happen to yield valid padding.
func decryptBlock(b *Block, key []byte) (*BlockData, []byte, error) {
	plaintext, err := crypto.Decrypt(b.Data, key)
	if err != nil {
		return nil, nil, err
	}
	if crypto.Hash(plaintext) != b.DataHash {
		return nil, nil, &cerrors.DecryptionError{Reason: fmt.Sprintf("plaintext of block %d does not match its data hash", b.ID)}
	}
	data := &BlockData{}
	if err := json.Unmarshal(plaintext, data); err != nil {
		return nil, nil, &cerrors.DecryptionError{Reason: fmt.Sprintf("block %d does not carry block data: %s", b.ID, err)}
	}
	return data, plaintext, nil
}
