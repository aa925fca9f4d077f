/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package disabled_test

import (
	"testing"

	"github.com/ehrchain/ehrd/common/metrics"
	"github.com/ehrchain/ehrd/common/metrics/disabled"
	"github.com/stretchr/testify/require"
)

func TestProviderMetersAcceptEveryCall(t *testing.T) {
	var p metrics.Provider = &disabled.Provider{}

	counter := p.NewCounter(metrics.CounterOpts{Name: "blocks_appended", LabelNames: []string{"action"}})
	gauge := p.NewGauge(metrics.GaugeOpts{Name: "queue_depth"})
	histogram := p.NewHistogram(metrics.HistogramOpts{Name: "send_duration"})

	require.NotPanics(t, func() {
		counter.With("action", "add_record").Add(1)
		gauge.Set(3)
		gauge.With("queue", "fanout").Add(-1)
		histogram.With("peer", "clinic-b").Observe(0.25)
	})
	require.Same(t, counter, counter.With("action", "genesis"))
}
