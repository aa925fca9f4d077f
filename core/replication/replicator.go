/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package replication

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/internal/pkg/comm"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

//go:generate counterfeiter -o mock/sender.go --fake-name Sender . Sender

// Sender delivers a serialized envelope to the peer at address and returns
// its serialized response.
type Sender interface {
	Send(ctx context.Context, address string, request []byte) ([]byte, error)
}

// ChainSource provides the current state of a chain at send time.
type ChainSource interface {
	ActiveKey(chainID string) ([]byte, error)
	Blocks(chainID string) ([]*ledger.Block, error)
	DeriveProviders(chainID string) ([]ledger.Provider, error)
}

// Config tunes outbound replication.
type Config struct {
	// SelfAddress is the externally reachable address of this peer.
	SelfAddress string
	// DefaultPort is appended to provider addresses without a port.
	DefaultPort string
	// SendTimeout bounds every message sent to a peer.
	SendTimeout time.Duration
	// MaxConcurrentSends bounds the number of peers contacted at once.
	MaxConcurrentSends int
}

const (
	defaultSendTimeout        = 10 * time.Second
	defaultMaxConcurrentSends = 4
)

// Delivery is the outcome of one message sent to one peer.
type Delivery struct {
	Action Action          `json:"action"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// PeerResult collects the deliveries made to one peer. Messages to a peer
// are sent in order and the sequence stops at the first failure.
type PeerResult struct {
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Deliveries []Delivery `json:"deliveries"`
}

// OK reports whether every message reached the peer and was accepted.
func (p PeerResult) OK() bool {
	for _, d := range p.Deliveries {
		if !d.OK {
			return false
		}
	}
	return true
}

// FanoutReport is the per-peer outcome of a fan-out.
type FanoutReport struct {
	ChainID string       `json:"chain_id"`
	Peers   []PeerResult `json:"peers"`
}

// Failed returns the peers that did not accept every message.
func (r *FanoutReport) Failed() []PeerResult {
	var failed []PeerResult
	for _, p := range r.Peers {
		if !p.OK() {
			failed = append(failed, p)
		}
	}
	return failed
}

type outbound struct {
	name      string
	address   string
	envelopes []*Envelope
}

// Replicator translates local mutations into messages for the peers of a
// chain.
type Replicator struct {
	source     ChainSource
	sender     Sender
	dispatcher *Dispatcher
	config     Config
	metrics    *Metrics
	self       string
}

// NewReplicator creates a Replicator. When dispatcher is nil fan-outs run
// on the calling goroutine.
func NewReplicator(source ChainSource, sender Sender, dispatcher *Dispatcher, config Config, m *Metrics) *Replicator {
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaultSendTimeout
	}
	if config.MaxConcurrentSends <= 0 {
		config.MaxConcurrentSends = defaultMaxConcurrentSends
	}
	r := &Replicator{
		source:     source,
		sender:     sender,
		dispatcher: dispatcher,
		config:     config,
		metrics:    m,
	}
	r.self = r.address(ledger.Provider{IP: config.SelfAddress})
	return r
}

// GrantAccess hands the active shared key of the chain to newPeer and then
// sends the full chain to every active provider, newPeer included.
func (r *Replicator) GrantAccess(ctx context.Context, chainID string, newPeer ledger.Provider) (*FanoutReport, error) {
	key, err := r.source.ActiveKey(chainID)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot grant access to chain %s", chainID)
	}
	grant, err := sharedKeyEnvelope(ActionAddProvider, chainID, key)
	if err != nil {
		return nil, err
	}
	newAddress := r.address(newPeer)

	return r.fanout(ctx, "grant", chainID, func(address string, chain *Envelope) []*Envelope {
		if address == newAddress {
			return []*Envelope{grant, chain}
		}
		return []*Envelope{chain}
	}, nil)
}

// NotifyRecord announces a new add-record block and sends the full chain to
// every active provider.
func (r *Replicator) NotifyRecord(ctx context.Context, chainID string, blockID uint64) (*FanoutReport, error) {
	announce, err := NewEnvelope(ActionAddRecord, &RecordParams{ChainID: chainID, BlockID: blockID})
	if err != nil {
		return nil, err
	}
	return r.fanout(ctx, "record", chainID, func(address string, chain *Envelope) []*Envelope {
		return []*Envelope{announce, chain}
	}, nil)
}

// SyncChain sends the full chain to every active provider.
func (r *Replicator) SyncChain(ctx context.Context, chainID string) (*FanoutReport, error) {
	return r.fanout(ctx, "sync", chainID, func(address string, chain *Envelope) []*Envelope {
		return []*Envelope{chain}
	}, nil)
}

// Rotate distributes a rotated shared key. Revoked peers that are no longer
// active providers are told to deactivate their replica; active providers
// receive the new key followed by the full chain.
func (r *Replicator) Rotate(ctx context.Context, chainID string, revoked []ledger.Provider) (*FanoutReport, error) {
	key, err := r.source.ActiveKey(chainID)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot rotate chain %s", chainID)
	}
	update, err := sharedKeyEnvelope(ActionUpdateSharedKey, chainID, key)
	if err != nil {
		return nil, err
	}
	revoke, err := NewEnvelope(ActionAccessRevoked, &ChainParams{ChainID: chainID})
	if err != nil {
		return nil, err
	}

	return r.fanout(ctx, "rotate", chainID, func(address string, chain *Envelope) []*Envelope {
		return []*Envelope{update, chain}
	}, func(active map[string]bool) []outbound {
		var extra []outbound
		for _, p := range revoked {
			address := r.address(p)
			if address == r.self || active[address] {
				continue
			}
			active[address] = true
			extra = append(extra, outbound{name: p.Name, address: address, envelopes: []*Envelope{revoke}})
		}
		return extra
	})
}

// address normalizes the ip of p to host:port, appending the default port
// when p carries none.
func (r *Replicator) address(p ledger.Provider) string {
	return net.JoinHostPort(comm.SplitHostPort(p.IP, r.config.DefaultPort))
}

type planFunc func(address string, chain *Envelope) []*Envelope

// fanout recomputes the audience of the chain, builds the per-peer message
// sequences and delivers them.
func (r *Replicator) fanout(ctx context.Context, kind, chainID string, plan planFunc, extra func(map[string]bool) []outbound) (*FanoutReport, error) {
	report := &FanoutReport{ChainID: chainID, Peers: []PeerResult{}}
	var audienceErr error
	run := func(ctx context.Context) {
		start := time.Now()
		defer func() { r.metrics.fanout(kind, time.Since(start)) }()

		targets, err := r.audience(chainID, plan, extra)
		if err != nil {
			audienceErr = errors.WithMessagef(err, "cannot compute %s audience of chain %s", kind, chainID)
			return
		}
		report.Peers = r.deliver(ctx, targets)
		if failed := report.Failed(); len(failed) > 0 {
			logger.Warningf("Fan-out %s of chain [%s] failed for %d of %d peer(s)", kind, chainID, len(failed), len(report.Peers))
		}
	}

	if r.dispatcher == nil {
		run(ctx)
	} else if err := r.dispatcher.Submit(ctx, run); err != nil {
		return nil, errors.WithMessagef(err, "fan-out %s of chain %s not delivered", kind, chainID)
	}
	if audienceErr != nil {
		return nil, audienceErr
	}
	return report, nil
}

func (r *Replicator) audience(chainID string, plan planFunc, extra func(map[string]bool) []outbound) ([]outbound, error) {
	providers, err := r.source.DeriveProviders(chainID)
	if err != nil {
		return nil, err
	}
	blocks, err := r.source.Blocks(chainID)
	if err != nil {
		return nil, err
	}
	chain, err := NewEnvelope(ActionUpdateChain, &UpdateChainParams{ChainID: chainID, Blocks: blocks})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var targets []outbound
	for _, p := range providers {
		address := r.address(p)
		if seen[address] {
			continue
		}
		seen[address] = true
		if address == r.self {
			logger.Debugf("Skipping own address %s for chain [%s]", address, chainID)
			continue
		}
		targets = append(targets, outbound{name: p.Name, address: address, envelopes: plan(address, chain)})
	}
	if extra != nil {
		targets = append(targets, extra(seen)...)
	}
	return targets, nil
}

func (r *Replicator) deliver(ctx context.Context, targets []outbound) []PeerResult {
	results := make([]PeerResult, len(targets))
	g := &errgroup.Group{}
	g.SetLimit(r.config.MaxConcurrentSends)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = r.deliverTo(ctx, target)
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Replicator) deliverTo(ctx context.Context, target outbound) PeerResult {
	result := PeerResult{Name: target.name, Address: target.address, Deliveries: []Delivery{}}
	for _, env := range target.envelopes {
		d := r.send(ctx, target.address, env)
		r.metrics.sent(env.Action, d.OK)
		result.Deliveries = append(result.Deliveries, d)
		if !d.OK {
			logger.Warningf("Peer %s (%s) did not accept %s: %s", target.name, target.address, env.Action, d.Error)
			break
		}
	}
	return result
}

func (r *Replicator) send(ctx context.Context, address string, env *Envelope) Delivery {
	d := Delivery{Action: env.Action}
	request, err := json.Marshal(env)
	if err != nil {
		d.Error = err.Error()
		return d
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.SendTimeout)
	defer cancel()
	raw, err := r.sender.Send(ctx, address, request)
	if err != nil {
		d.Error = err.Error()
		return d
	}

	resp := &Response{}
	if err := json.Unmarshal(raw, resp); err != nil {
		d.Error = errors.Wrap(err, "malformed response").Error()
		return d
	}
	d.OK = resp.OK
	if resp.OK {
		d.Data = resp.Data
	} else {
		var reason string
		if json.Unmarshal(resp.Data, &reason) != nil {
			reason = string(resp.Data)
		}
		d.Error = reason
	}
	return d
}
