/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import "github.com/ehrchain/ehrd/common/metrics"

var (
	blocksAppendedOpts = metrics.CounterOpts{
		Namespace:  "ledger",
		Name:       "blocks_appended",
		Help:       "The number of blocks stored, by payload action.",
		LabelNames: []string{"action"},
	}
	blocksRejectedOpts = metrics.CounterOpts{
		Namespace:  "ledger",
		Name:       "blocks_rejected",
		Help:       "The number of inbound blocks rejected, by reason.",
		LabelNames: []string{"reason"},
	}
	rotationFaultsOpts = metrics.CounterOpts{
		Namespace: "ledger",
		Name:      "rotation_faults",
		Help:      "The number of blocks left unrotated during re-encryption.",
	}
)

type stats struct {
	blocksAppended metrics.Counter
	blocksRejected metrics.Counter
	rotationFaults metrics.Counter
}

func newStats(p metrics.Provider) *stats {
	return &stats{
		blocksAppended: p.NewCounter(blocksAppendedOpts),
		blocksRejected: p.NewCounter(blocksRejectedOpts),
		rotationFaults: p.NewCounter(rotationFaultsOpts),
	}
}

func (s *stats) appended(action Action) {
	s.blocksAppended.With("action", string(action)).Add(1)
}

func (s *stats) rejected(reason string) {
	s.blocksRejected.With("reason", reason).Add(1)
}
