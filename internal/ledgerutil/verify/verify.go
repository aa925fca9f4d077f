/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verify

import (
	"path/filepath"

	"github.com/ehrchain/ehrd/internal/fileutil"
	"github.com/ehrchain/ehrd/internal/ledgerutil"
	"github.com/ehrchain/ehrd/internal/ledgerutil/jsonrw"
	"github.com/pkg/errors"
)

// ResultFile is the name of the report written by VerifyLedger.
const ResultFile = "verification_result.json"

// Result is the outcome of checking one chain.
type Result struct {
	ChainID string `json:"chain_id"`
	Valid   bool   `json:"valid"`
	Problem string `json:"problem,omitempty"`
}

// VerifyLedger checks the hash linkage of the given chains, or of every
// active chain when none are named. A broken chain is reported in its
// result, not as an error. When outputDir is set the results are also
// written to ResultFile there.
func VerifyLedger(fileSystemPath, outputDir string, chainIDs ...string) ([]Result, bool, error) {
	l, err := ledgerutil.Open(fileSystemPath)
	if err != nil {
		return nil, false, err
	}
	defer l.Close()

	if len(chainIDs) == 0 {
		chains, err := l.Engine.Chains()
		if err != nil {
			return nil, false, err
		}
		for _, c := range chains {
			chainIDs = append(chainIDs, c.ID)
		}
	}

	allValid := true
	results := make([]Result, 0, len(chainIDs))
	for _, id := range chainIDs {
		r := Result{ChainID: id, Valid: true}
		if err := l.Engine.Verify(id); err != nil {
			r.Valid = false
			r.Problem = err.Error()
			allValid = false
		}
		results = append(results, r)
	}

	if outputDir != "" {
		if err := writeResults(outputDir, results); err != nil {
			return nil, false, err
		}
	}
	return results, allValid, nil
}

func writeResults(outputDir string, results []Result) error {
	if _, err := fileutil.CreateDirIfMissing(outputDir); err != nil {
		return err
	}
	w, err := jsonrw.NewJSONFileWriter(filepath.Join(outputDir, ResultFile))
	if err != nil {
		return err
	}
	if err := w.OpenList(); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.AddEntry(r); err != nil {
			return errors.WithMessage(err, "failed writing verification result")
		}
	}
	if err := w.CloseList(); err != nil {
		return err
	}
	return w.Close()
}
