/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger_test

import (
	"os"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/ehrchain/ehrd/common/crypto"
	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/common/metrics/disabled"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/core/ledger/ledgerstore"
	"github.com/stretchr/testify/require"
)

const providerKey = "-----BEGIN PUBLIC KEY-----\ntest\n-----END PUBLIC KEY-----\n"

func TestMain(m *testing.M) {
	flogging.ActivateSpec("ledger=debug")
	os.Exit(m.Run())
}

type testEnv struct {
	engine *ledger.Engine
	store  *ledgerstore.Store
	clock  *fakeclock.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	store, err := ledgerstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	clk := fakeclock.NewFakeClock(time.Unix(1700000000, 0))
	return &testEnv{
		engine: ledger.NewEngine(store, clk, &disabled.Provider{}),
		store:  store,
		clock:  clk,
	}
}

func (env *testEnv) createChain(t *testing.T, id string) *ledger.Block {
	genesis, err := env.engine.CreateChain(&ledger.Chain{
		ID:          id,
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: "1815-12-10",
	}, providerKey)
	require.NoError(t, err)
	return genesis
}

func (env *testEnv) append(t *testing.T, chainID string, action ledger.Action, fields map[string]string) *ledger.Block {
	env.clock.Increment(time.Second)
	b, err := env.engine.Append(chainID, action, fields, providerKey)
	require.NoError(t, err)
	return b
}

func TestCreateChain(t *testing.T) {
	env := newTestEnv(t)
	genesis := env.createChain(t, "chain1")

	require.Equal(t, uint64(0), genesis.ID)
	require.Equal(t, ledger.GenesisPreviousHash, genesis.PreviousHash)
	require.Equal(t, ledger.ComputeHash(genesis), genesis.Hash)
	require.Equal(t, providerKey, genesis.ProviderKey)

	key, err := env.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.Len(t, key, crypto.KeySize)

	view, err := env.engine.ReadPatientView("chain1")
	require.NoError(t, err)
	require.Equal(t, "1815-12-10", view.DateOfBirth)
	require.Equal(t, "Ada", view.FirstName)
	require.Empty(t, view.Providers)
	require.Empty(t, view.Records)

	chains, err := env.engine.Chains()
	require.NoError(t, err)
	require.Len(t, chains, 1)
	require.True(t, chains[0].Active)

	_, err = env.engine.CreateChain(&ledger.Chain{ID: "chain1"}, providerKey)
	require.EqualError(t, err, "failed creating chain chain1: chain chain1 already exists")
}

func TestCreateChainWithOwners(t *testing.T) {
	env := newTestEnv(t)
	owners := []ledger.Provider{{Name: "clinic-a", IP: "10.0.0.1"}, {Name: "clinic-b", IP: "10.0.0.2:9051"}}
	genesis, err := env.engine.CreateChain(&ledger.Chain{ID: "chain1", FirstName: "Ada", LastName: "Lovelace", DateOfBirth: "1815-12-10"}, providerKey, owners...)
	require.NoError(t, err)
	require.Equal(t, uint64(0), genesis.ID)

	blocks, err := env.engine.Blocks("chain1")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	providers, err := env.engine.DeriveProviders("chain1")
	require.NoError(t, err)
	require.Equal(t, owners, providers)
	require.NoError(t, env.engine.Verify("chain1"))
}

func TestAppendLinksBlocks(t *testing.T) {
	env := newTestEnv(t)
	genesis := env.createChain(t, "chain1")
	b1 := env.append(t, "chain1", ledger.ActionAddProvider, map[string]string{"name": "clinic", "ip": "10.0.0.1"})
	b2 := env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "x-ray", "notes": "fine"})

	require.Equal(t, uint64(1), b1.ID)
	require.Equal(t, genesis.Hash, b1.PreviousHash)
	require.Equal(t, uint64(2), b2.ID)
	require.Equal(t, b1.Hash, b2.PreviousHash)
	require.True(t, b2.Timestamp > b1.Timestamp)
	require.NoError(t, env.engine.Verify("chain1"))

	view, err := env.engine.ReadPatientView("chain1")
	require.NoError(t, err)
	require.Equal(t, []ledger.Provider{{Name: "clinic", IP: "10.0.0.1"}}, view.Providers)
	require.Equal(t, []ledger.RecordRef{{Timestamp: b2.Timestamp, Subject: "x-ray", BlockID: 2}}, view.Records)
}

func TestAppendFailures(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Append("missing", ledger.ActionAddRecord, nil, providerKey)
	require.True(t, cerrors.IsNotFound(err))

	require.NoError(t, env.store.InsertSharedKey("keyonly", make([]byte, crypto.KeySize)))
	_, err = env.engine.Append("keyonly", ledger.ActionAddRecord, nil, providerKey)
	require.True(t, cerrors.IsNotFound(err))
	require.Contains(t, err.Error(), "empty chain keyonly")

	env.createChain(t, "chain1")
	_, err = env.engine.Append("chain1", ledger.ActionGenesis, nil, providerKey)
	require.EqualError(t, err, "chain chain1 already has a genesis block")
}

func TestReadRecord(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	b := env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "blood test", "result": "ok"})

	record, err := env.engine.ReadRecord("chain1", b.ID)
	require.NoError(t, err)
	require.Equal(t, &ledger.Record{
		BlockID:     b.ID,
		Timestamp:   b.Timestamp,
		ProviderKey: providerKey,
		Fields:      map[string]string{"subject": "blood test", "result": "ok"},
	}, record)

	_, err = env.engine.ReadRecord("chain1", 0)
	require.True(t, cerrors.IsNotFound(err))
	_, err = env.engine.ReadRecord("chain1", 7)
	require.True(t, cerrors.IsNotFound(err))
}

func TestApplyRemoteReplicatesChain(t *testing.T) {
	peerA := newTestEnv(t)
	peerB := newTestEnv(t)

	peerA.createChain(t, "chain1")
	peerA.append(t, "chain1", ledger.ActionAddProvider, map[string]string{"name": "a", "ip": "10.0.0.1"})
	peerA.append(t, "chain1", ledger.ActionAddProvider, map[string]string{"name": "b", "ip": "10.0.0.2"})
	peerA.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "checkup"})

	key, err := peerA.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.NoError(t, peerB.engine.GrantKey("chain1", key))

	blocks, err := peerA.engine.Blocks("chain1")
	require.NoError(t, err)
	for _, b := range blocks {
		require.NoError(t, peerB.engine.ApplyRemote(b))
	}

	replicated, err := peerB.engine.Blocks("chain1")
	require.NoError(t, err)
	require.Equal(t, blocks, replicated)
	require.NoError(t, peerB.engine.Verify("chain1"))

	viewA, err := peerA.engine.ReadPatientView("chain1")
	require.NoError(t, err)
	viewB, err := peerB.engine.ReadPatientView("chain1")
	require.NoError(t, err)
	require.Equal(t, viewA, viewB)

	chains, err := peerB.engine.Chains()
	require.NoError(t, err)
	require.Equal(t, []*ledger.Chain{{ID: "chain1", FirstName: "Ada", LastName: "Lovelace", DateOfBirth: "1815-12-10", Active: true}}, chains)
}

func TestApplyRemoteRejections(t *testing.T) {
	peerA := newTestEnv(t)
	peerB := newTestEnv(t)

	peerA.createChain(t, "chain1")
	peerA.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "one"})
	peerA.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "two"})
	blocks, err := peerA.engine.Blocks("chain1")
	require.NoError(t, err)

	t.Run("bootstrap without key", func(t *testing.T) {
		err := peerB.engine.ApplyRemote(blocks[0])
		require.True(t, cerrors.IsNotFound(err))
		exists, err := peerB.store.ChainExists("chain1")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("bootstrap from non genesis", func(t *testing.T) {
		err := peerB.engine.ApplyRemote(blocks[1])
		require.True(t, cerrors.IsOutOfOrder(err))
	})

	t.Run("bootstrap under wrong key", func(t *testing.T) {
		wrong, err := crypto.GenerateKey()
		require.NoError(t, err)
		require.NoError(t, peerB.engine.GrantKey("chain1", wrong))
		err = peerB.engine.ApplyRemote(blocks[0])
		require.True(t, cerrors.IsDecryption(err))
	})

	key, err := peerA.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.NoError(t, peerB.engine.GrantKey("chain1", key))
	require.NoError(t, peerB.engine.ApplyRemote(blocks[0]))

	t.Run("gap", func(t *testing.T) {
		err := peerB.engine.ApplyRemote(blocks[2])
		require.True(t, cerrors.IsOutOfOrder(err))
		require.EqualError(t, err, "out of order block on chain chain1: expected id 1, got 2")
	})

	t.Run("duplicate", func(t *testing.T) {
		err := peerB.engine.ApplyRemote(blocks[0])
		require.True(t, cerrors.IsOutOfOrder(err))
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := *blocks[1]
		tampered.DataHash = crypto.Hash([]byte("something else"))
		err := peerB.engine.ApplyRemote(&tampered)
		require.True(t, cerrors.IsIntegrityMismatch(err))

		relinked := *blocks[1]
		relinked.PreviousHash = "0"
		err = peerB.engine.ApplyRemote(&relinked)
		require.True(t, cerrors.IsIntegrityMismatch(err))
	})

	stored, err := peerB.engine.Blocks("chain1")
	require.NoError(t, err)
	require.Equal(t, blocks[:1], stored)
}

func TestFoldProvidersIsOrderSensitive(t *testing.T) {
	add := &ledger.BlockData{Action: ledger.ActionAddProvider, Fields: map[string]string{"name": "clinic", "ip": "10.0.0.1"}}
	remove := &ledger.BlockData{Action: ledger.ActionRemoveProvider, Fields: map[string]string{"name": "clinic", "ip": "10.0.0.1"}}
	record := &ledger.BlockData{Action: ledger.ActionAddRecord, Fields: map[string]string{"subject": "x"}}

	require.Empty(t, ledger.FoldProviders([]*ledger.BlockData{add, record, remove}))
	require.Equal(t, []ledger.Provider{{Name: "clinic", IP: "10.0.0.1"}}, ledger.FoldProviders([]*ledger.BlockData{remove, add}))
	require.Equal(t, []ledger.Provider{{Name: "clinic", IP: "10.0.0.1"}}, ledger.FoldProviders([]*ledger.BlockData{add, add}))

	other := &ledger.BlockData{Action: ledger.ActionAddProvider, Fields: map[string]string{"name": "lab", "ip": "10.0.0.2"}}
	renamed := &ledger.BlockData{Action: ledger.ActionAddProvider, Fields: map[string]string{"name": "clinic-2", "ip": "10.0.0.1"}}
	require.Equal(t,
		[]ledger.Provider{{Name: "lab", IP: "10.0.0.2"}},
		ledger.FoldProviders([]*ledger.BlockData{add, other, renamed, remove}),
	)
}

func TestDeriveProviders(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	env.append(t, "chain1", ledger.ActionAddProvider, map[string]string{"name": "a", "ip": "10.0.0.1"})
	env.append(t, "chain1", ledger.ActionAddProvider, map[string]string{"name": "b", "ip": "10.0.0.2"})
	env.append(t, "chain1", ledger.ActionRemoveProvider, map[string]string{"name": "a", "ip": "10.0.0.1"})

	providers, err := env.engine.DeriveProviders("chain1")
	require.NoError(t, err)
	require.Equal(t, []ledger.Provider{{Name: "b", IP: "10.0.0.2"}}, providers)

	_, err = env.engine.DeriveProviders("missing")
	require.True(t, cerrors.IsNotFound(err))
}

func TestDeactivateAndGrant(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	key, err := env.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)

	require.NoError(t, env.engine.Deactivate("chain1"))
	_, err = env.engine.ReadPatientView("chain1")
	require.True(t, cerrors.IsNotFound(err))
	chains, err := env.engine.Chains()
	require.NoError(t, err)
	require.Empty(t, chains)

	require.True(t, cerrors.IsNotFound(env.engine.Deactivate("missing")))

	require.NoError(t, env.engine.GrantKey("chain1", key))
	chains, err = env.engine.Chains()
	require.NoError(t, err)
	require.Len(t, chains, 1)
	_, err = env.engine.ReadPatientView("chain1")
	require.NoError(t, err)
}

// tamperingStore returns a modified copy of one block from FetchAllBlocks.
type tamperingStore struct {
	*ledgerstore.Store
	blockID uint64
	tamper  func(b *ledger.Block)
}

func (s *tamperingStore) FetchAllBlocks(chainID string) ([]*ledger.Block, error) {
	blocks, err := s.Store.FetchAllBlocks(chainID)
	if err != nil {
		return nil, err
	}
	for i, b := range blocks {
		if b.ID == s.blockID {
			c := *b
			s.tamper(&c)
			blocks[i] = &c
		}
	}
	return blocks, nil
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "one"})
	env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "two"})
	require.NoError(t, env.engine.Verify("chain1"))

	require.True(t, cerrors.IsNotFound(env.engine.Verify("missing")))

	tests := []struct {
		name   string
		tamper func(b *ledger.Block)
		check  func(error) bool
	}{
		{"hash", func(b *ledger.Block) { b.Timestamp++ }, cerrors.IsIntegrityMismatch},
		{"linkage", func(b *ledger.Block) { b.PreviousHash = "0" }, cerrors.IsIntegrityMismatch},
		{"index", func(b *ledger.Block) { b.ID = 5 }, cerrors.IsOutOfOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &tamperingStore{Store: env.store, blockID: 1, tamper: tt.tamper}
			engine := ledger.NewEngine(store, env.clock, &disabled.Provider{})
			err := engine.Verify("chain1")
			require.Error(t, err)
			require.True(t, tt.check(err), "unexpected error: %s", err)
		})
	}
}
