/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger_test

import (
	"testing"

	"github.com/ehrchain/ehrd/common/crypto"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/stretchr/testify/require"
)

func rotate(t *testing.T, env *testEnv, chainID string, newKey []byte) *ledger.RotationReport {
	var report *ledger.RotationReport
	err := env.engine.Exclusive(chainID, func(tx *ledger.Tx) error {
		oldKey, err := tx.ActiveKey()
		if err != nil {
			return err
		}
		if err := tx.ActivateKey(newKey); err != nil {
			return err
		}
		report, err = tx.Reencrypt(oldKey, newKey)
		return err
	})
	require.NoError(t, err)
	return report
}

func TestReencryptPreservesHashes(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	env.append(t, "chain1", ledger.ActionAddProvider, map[string]string{"name": "a", "ip": "10.0.0.1"})
	env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "checkup"})

	k1, err := env.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	before, err := env.engine.Blocks("chain1")
	require.NoError(t, err)
	require.Len(t, before, 3)

	k2, err := crypto.GenerateKey()
	require.NoError(t, err)
	report := rotate(t, env, "chain1", k2)
	require.True(t, report.Clean())
	require.Equal(t, []uint64{0, 1, 2}, report.Rotated)
	require.Empty(t, report.Skipped)

	active, err := env.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	require.Equal(t, k2, active)
	versions, err := env.store.SharedKeyVersions("chain1")
	require.NoError(t, err)
	require.Equal(t, 2, versions)

	after, err := env.engine.Blocks("chain1")
	require.NoError(t, err)
	for i, b := range after {
		require.Equal(t, before[i].Hash, b.Hash)
		require.Equal(t, before[i].DataHash, b.DataHash)
		require.Equal(t, ledger.ComputeHash(b), b.Hash)
		require.NotEqual(t, before[i].Data, b.Data)

		plaintext, err := crypto.Decrypt(b.Data, k2)
		require.NoError(t, err)
		require.Equal(t, b.DataHash, crypto.Hash(plaintext))

		stale, err := crypto.Decrypt(b.Data, k1)
		if err == nil {
			require.NotEqual(t, b.DataHash, crypto.Hash(stale))
		}
	}
	require.NoError(t, env.engine.Verify("chain1"))

	view, err := env.engine.ReadPatientView("chain1")
	require.NoError(t, err)
	require.Len(t, view.Records, 1)
}

func TestReencryptIsRestartable(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "checkup"})

	k1, err := env.store.GetActiveSharedKey("chain1")
	require.NoError(t, err)
	k2, err := crypto.GenerateKey()
	require.NoError(t, err)
	rotate(t, env, "chain1", k2)

	var report *ledger.RotationReport
	err = env.engine.Exclusive("chain1", func(tx *ledger.Tx) error {
		var err error
		report, err = tx.Reencrypt(k1, k2)
		return err
	})
	require.NoError(t, err)
	require.True(t, report.Clean())
	require.Empty(t, report.Rotated)
	require.Equal(t, []uint64{0, 1}, report.Skipped)
}

func TestReencryptIsolatesFaults(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")
	env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "one"})
	env.append(t, "chain1", ledger.ActionAddRecord, map[string]string{"subject": "two"})

	require.NoError(t, env.store.UpdateBlockCiphertext("chain1", 1, "not hex"))

	k2, err := crypto.GenerateKey()
	require.NoError(t, err)
	report := rotate(t, env, "chain1", k2)
	require.False(t, report.Clean())
	require.Equal(t, []uint64{0, 2}, report.Rotated)
	require.Len(t, report.Faults, 1)
	require.Equal(t, uint64(1), report.Faults[0].BlockID)
	require.Contains(t, report.Faults[0].Reason, "decryption failed")

	faulty, err := env.store.FetchBlock("chain1", 1)
	require.NoError(t, err)
	require.Equal(t, "not hex", faulty.Data)

	record, err := env.engine.ReadRecord("chain1", 2)
	require.NoError(t, err)
	require.Equal(t, "two", record.Fields["subject"])
}

func TestTxAppendInsideExclusive(t *testing.T) {
	env := newTestEnv(t)
	env.createChain(t, "chain1")

	err := env.engine.Exclusive("chain1", func(tx *ledger.Tx) error {
		require.Equal(t, "chain1", tx.ChainID())
		if _, err := tx.Append(ledger.ActionAddProvider, map[string]string{"name": "a", "ip": "10.0.0.1"}, providerKey); err != nil {
			return err
		}
		providers, err := tx.DeriveProviders()
		require.NoError(t, err)
		require.Equal(t, []ledger.Provider{{Name: "a", IP: "10.0.0.1"}}, providers)
		return nil
	})
	require.NoError(t, err)
}
