/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledgerutil

import (
	"os"
	"path/filepath"
	"testing"

	"code.cloudfoundry.org/clock"
	"github.com/ehrchain/ehrd/common/metrics/disabled"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/core/ledger/ledgerstore"
	"github.com/ehrchain/ehrd/internal/ledgerutil/jsonrw"
	"github.com/stretchr/testify/require"
)

// populate creates a node database with two chains, the second of which
// is deactivated.
func populate(t *testing.T) string {
	fsPath := t.TempDir()
	store, err := ledgerstore.Open(ledgerstore.DataPath(fsPath))
	require.NoError(t, err)
	defer store.Close()

	engine := ledger.NewEngine(store, clock.NewClock(), &disabled.Provider{})
	_, err = engine.CreateChain(&ledger.Chain{ID: "chain-1", FirstName: "Ada", LastName: "Lovelace", DateOfBirth: "1815-12-10"}, "provider-key")
	require.NoError(t, err)
	_, err = engine.Append("chain-1", ledger.ActionAddRecord, map[string]string{"subject": "x-ray"}, "provider-key")
	require.NoError(t, err)
	_, err = engine.CreateChain(&ledger.Chain{ID: "chain-2", FirstName: "Alan", LastName: "Turing", DateOfBirth: "1912-06-23"}, "provider-key")
	require.NoError(t, err)
	require.NoError(t, engine.Deactivate("chain-2"))
	return fsPath
}

func TestList(t *testing.T) {
	fsPath := populate(t)

	summaries, err := List(fsPath)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "chain-1", summaries[0].ID)
	require.Equal(t, "Lovelace", summaries[0].LastName)
	require.Equal(t, uint64(2), summaries[0].Blocks)
}

func TestDump(t *testing.T) {
	fsPath := populate(t)
	out := filepath.Join(t.TempDir(), "chain-2.json")

	count, err := Dump(fsPath, "chain-2", out)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	dump, err := jsonrw.LoadChainDump(out)
	require.NoError(t, err)
	require.Equal(t, "chain-2", dump.Chain.ID)
	require.False(t, dump.Chain.Active)
	require.Len(t, dump.Blocks, 1)
	require.Equal(t, ledger.GenesisPreviousHash, dump.Blocks[0].PreviousHash)
	require.Equal(t, ledger.ComputeHash(dump.Blocks[0]), dump.Blocks[0].Hash)
}

func TestDumpUnknownChain(t *testing.T) {
	fsPath := populate(t)
	out := filepath.Join(t.TempDir(), "missing.json")

	_, err := Dump(fsPath, "no-such-chain", out)
	require.Error(t, err)
	require.NoFileExists(t, out)
}

func TestOpenRequiresExistingDatabase(t *testing.T) {
	fsPath := t.TempDir()
	_, err := Open(fsPath)
	require.EqualError(t, err, "node database does not exist at "+ledgerstore.DataPath(fsPath))
	require.NoDirExists(t, ledgerstore.DataPath(fsPath))

	require.NoError(t, os.MkdirAll(ledgerstore.DataPath(fsPath), 0o755))
	_, err = Open(fsPath)
	require.EqualError(t, err, "node database at "+ledgerstore.DataPath(fsPath)+" is empty")
}

func TestOpenWhileDatabaseLocked(t *testing.T) {
	fsPath := populate(t)
	store, err := ledgerstore.Open(ledgerstore.DataPath(fsPath))
	require.NoError(t, err)
	defer store.Close()

	_, err = Open(fsPath)
	require.ErrorContains(t, err, "failed opening node database, is the node stopped?")
}
