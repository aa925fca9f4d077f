/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ledgerutil inspects the database of a stopped node.
package ledgerutil

import (
	"code.cloudfoundry.org/clock"
	"github.com/ehrchain/ehrd/common/metrics/disabled"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/core/ledger/ledgerstore"
	"github.com/ehrchain/ehrd/internal/fileutil"
	"github.com/ehrchain/ehrd/internal/ledgerutil/jsonrw"
	"github.com/pkg/errors"
)

// Ledger is a node database opened for offline inspection.
type Ledger struct {
	Store  *ledgerstore.Store
	Engine *ledger.Engine
}

// Open opens the database of the node rooted at fileSystemPath. The
// database must already exist; leveldb refuses to open it while the node
// is running.
func Open(fileSystemPath string) (*Ledger, error) {
	dataPath := ledgerstore.DataPath(fileSystemPath)
	exists, err := fileutil.DirExists(dataPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("node database does not exist at %s", dataPath)
	}
	empty, err := fileutil.DirEmpty(dataPath)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, errors.Errorf("node database at %s is empty", dataPath)
	}

	store, err := ledgerstore.Open(dataPath)
	if err != nil {
		return nil, errors.WithMessage(err, "failed opening node database, is the node stopped?")
	}
	return &Ledger{
		Store:  store,
		Engine: ledger.NewEngine(store, clock.NewClock(), &disabled.Provider{}),
	}, nil
}

func (l *Ledger) Close() {
	l.Store.Close()
}

// ChainSummary describes an active chain without decrypting it.
type ChainSummary struct {
	*ledger.Chain
	Blocks uint64 `json:"blocks"`
}

// List summarizes the active chains held by the node.
func List(fileSystemPath string) ([]ChainSummary, error) {
	l, err := Open(fileSystemPath)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	chains, err := l.Engine.Chains()
	if err != nil {
		return nil, err
	}
	summaries := make([]ChainSummary, 0, len(chains))
	for _, c := range chains {
		last, err := l.Store.FetchLastBlock(c.ID)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed reading chain %s", c.ID)
		}
		summaries = append(summaries, ChainSummary{Chain: c, Blocks: last.ID + 1})
	}
	return summaries, nil
}

// Dump writes the header and the encrypted blocks of a chain to outputFile
// and returns the number of blocks written. Deactivated chains can be
// dumped as well.
func Dump(fileSystemPath, chainID, outputFile string) (int, error) {
	l, err := Open(fileSystemPath)
	if err != nil {
		return 0, err
	}
	defer l.Close()

	chain, err := l.Store.FetchChain(chainID)
	if err != nil {
		return 0, err
	}
	blocks, err := l.Store.FetchAllBlocks(chainID)
	if err != nil {
		return 0, err
	}

	w, err := jsonrw.NewJSONFileWriter(outputFile)
	if err != nil {
		return 0, err
	}
	if err := writeDump(w, chain, blocks); err != nil {
		w.Close()
		return 0, errors.WithMessagef(err, "failed writing %s", outputFile)
	}
	return len(blocks), w.Close()
}

func writeDump(w *jsonrw.JSONFileWriter, chain *ledger.Chain, blocks []*ledger.Block) error {
	if err := w.OpenObject(); err != nil {
		return err
	}
	if err := w.AddField("chain", chain); err != nil {
		return err
	}
	if err := w.AddField("blocks", blocks); err != nil {
		return err
	}
	for _, b := range blocks {
		if err := w.AddEntry(b); err != nil {
			return err
		}
	}
	if err := w.CloseList(); err != nil {
		return err
	}
	return w.CloseObject()
}
