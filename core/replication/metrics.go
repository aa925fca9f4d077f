/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package replication

import (
	"time"

	"github.com/ehrchain/ehrd/common/metrics"
)

var (
	messagesSentOpts = metrics.CounterOpts{
		Namespace:  "replication",
		Name:       "messages_sent",
		Help:       "The number of messages sent to peers.",
		LabelNames: []string{"action", "status"},
	}
	messagesReceivedOpts = metrics.CounterOpts{
		Namespace:  "replication",
		Name:       "messages_received",
		Help:       "The number of messages received from peers.",
		LabelNames: []string{"action", "status"},
	}
	fanoutDurationOpts = metrics.HistogramOpts{
		Namespace:  "replication",
		Name:       "fanout_duration",
		Help:       "The time to deliver a fan-out to every peer of a chain, in seconds.",
		LabelNames: []string{"kind"},
		Buckets:    []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
)

// Metrics records replication traffic.
type Metrics struct {
	messagesSent     metrics.Counter
	messagesReceived metrics.Counter
	fanoutDuration   metrics.Histogram
}

// NewMetrics creates the replication metrics on p.
func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		messagesSent:     p.NewCounter(messagesSentOpts),
		messagesReceived: p.NewCounter(messagesReceivedOpts),
		fanoutDuration:   p.NewHistogram(fanoutDurationOpts),
	}
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func (s *Metrics) sent(action Action, ok bool) {
	s.messagesSent.With("action", string(action), "status", status(ok)).Add(1)
}

func (s *Metrics) received(action Action, ok bool) {
	if action == "" {
		action = "unknown"
	}
	s.messagesReceived.With("action", string(action), "status", status(ok)).Add(1)
}

func (s *Metrics) fanout(kind string, elapsed time.Duration) {
	s.fanoutDuration.With("kind", kind).Observe(elapsed.Seconds())
}
