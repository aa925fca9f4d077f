/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledgerstore

import (
	"context"
	"os"
	"testing"

	cerrors "github.com/ehrchain/ehrd/common/errors"
	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/hyperledger/fabric-lib-go/healthz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	flogging.ActivateSpec("ledgerstore,leveldbhelper=debug")
	os.Exit(m.Run())
}

var _ healthz.HealthChecker = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestChains(t *testing.T) {
	s := newTestStore(t)

	exists, err := s.ChainExists("chain1")
	require.NoError(t, err)
	require.False(t, exists)
	_, err = s.FetchChain("chain1")
	require.True(t, cerrors.IsNotFound(err))

	require.NoError(t, s.InsertChain(&ledger.Chain{ID: "chain1", FirstName: "Ada", Active: true}))
	require.NoError(t, s.InsertChain(&ledger.Chain{ID: "chain2", FirstName: "Grace", Active: true}))
	exists, err = s.ChainExists("chain1")
	require.NoError(t, err)
	require.True(t, exists)

	chains, err := s.FetchChains()
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, "chain1", chains[0].ID)
	assert.Equal(t, "chain2", chains[1].ID)

	require.NoError(t, s.SetChainActive("chain1", false))
	chains, err = s.FetchChains()
	require.NoError(t, err)
	require.Equal(t, []*ledger.Chain{{ID: "chain2", FirstName: "Grace", Active: true}}, chains)

	chain, err := s.FetchChain("chain1")
	require.NoError(t, err)
	require.False(t, chain.Active)

	require.True(t, cerrors.IsNotFound(s.SetChainActive("missing", true)))
}

func TestBlocks(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FetchLastBlock("chain1")
	require.True(t, cerrors.IsNotFound(err))
	blocks, err := s.FetchAllBlocks("chain1")
	require.NoError(t, err)
	require.Empty(t, blocks)

	// ids 0..2 with block 1 carrying an earlier timestamp than block 0
	require.NoError(t, s.InsertBlock(&ledger.Block{ChainID: "chain1", ID: 0, Timestamp: 20, Data: "aa"}))
	require.NoError(t, s.InsertBlock(&ledger.Block{ChainID: "chain1", ID: 1, Timestamp: 10, Data: "bb"}))
	require.NoError(t, s.InsertBlock(&ledger.Block{ChainID: "chain1", ID: 2, Timestamp: 20, Data: "cc"}))
	require.NoError(t, s.InsertBlock(&ledger.Block{ChainID: "chain10", ID: 0, Timestamp: 1, Data: "dd"}))

	err = s.InsertBlock(&ledger.Block{ChainID: "chain1", ID: 1, Timestamp: 30})
	require.True(t, cerrors.IsPersistence(err))

	blocks, err = s.FetchAllBlocks("chain1")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(1), blocks[0].ID)
	assert.Equal(t, uint64(0), blocks[1].ID)
	assert.Equal(t, uint64(2), blocks[2].ID)

	last, err := s.FetchLastBlock("chain1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), last.ID)

	require.NoError(t, s.UpdateBlockCiphertext("chain1", 1, "ff"))
	b, err := s.FetchBlock("chain1", 1)
	require.NoError(t, err)
	require.Equal(t, &ledger.Block{ChainID: "chain1", ID: 1, Timestamp: 10, Data: "ff"}, b)

	_, err = s.FetchBlock("chain1", 3)
	require.True(t, cerrors.IsNotFound(err))
	require.True(t, cerrors.IsNotFound(s.UpdateBlockCiphertext("chain1", 3, "ff")))
}

func TestLastBlockUsesNumericOrder(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []uint64{0, 9, 10, 255, 256} {
		require.NoError(t, s.InsertBlock(&ledger.Block{ChainID: "chain1", ID: id}))
	}
	last, err := s.FetchLastBlock("chain1")
	require.NoError(t, err)
	require.Equal(t, uint64(256), last.ID)
}

func TestSharedKeys(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetActiveSharedKey("chain1")
	require.True(t, cerrors.IsNotFound(err))
	_, err = s.GetLatestSharedKey("chain1")
	require.True(t, cerrors.IsNotFound(err))

	require.NoError(t, s.InsertSharedKey("chain1", []byte("key-one")))
	key, err := s.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.Equal(t, []byte("key-one"), key)

	require.NoError(t, s.InsertSharedKey("chain1", []byte("key-two")))
	key, err = s.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.Equal(t, []byte("key-two"), key)

	records, err := s.sharedKeys("chain1")
	require.NoError(t, err)
	require.Equal(t, []sharedKeyRecord{
		{Key: []byte("key-one"), Active: false},
		{Key: []byte("key-two"), Active: true},
	}, records)

	require.NoError(t, s.DeactivateSharedKeys("chain1"))
	_, err = s.GetActiveSharedKey("chain1")
	require.True(t, cerrors.IsNotFound(err))
	latest, err := s.GetLatestSharedKey("chain1")
	require.NoError(t, err)
	require.Equal(t, []byte("key-two"), latest)
	versions, err := s.SharedKeyVersions("chain1")
	require.NoError(t, err)
	require.Equal(t, 2, versions)

	require.NoError(t, s.InsertSharedKey("chain1", []byte("key-three")))
	key, err = s.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.Equal(t, []byte("key-three"), key)
}

func TestLocalIdentity(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	kp, err := s.LocalIdentity()
	require.NoError(t, err)
	require.Contains(t, kp.PublicKey, "BEGIN PUBLIC KEY")
	again, err := s.LocalIdentity()
	require.NoError(t, err)
	require.Equal(t, kp, again)
	s.Close()

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	persisted, err := reopened.LocalIdentity()
	require.NoError(t, err)
	require.Equal(t, kp, persisted)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.HealthCheck(context.Background()))
	s.Close()

	require.True(t, cerrors.IsPersistence(s.HealthCheck(context.Background())))
	_, err = s.ChainExists("chain1")
	require.True(t, cerrors.IsPersistence(err))
	_, err = s.FetchAllBlocks("chain1")
	require.True(t, cerrors.IsPersistence(err))
}
