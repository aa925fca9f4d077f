/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ehr executes front-end actions against the local ledger and
// replicates the resulting blocks to the providers of each chain.
package ehr

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/core/keyrotation"
	"github.com/ehrchain/ehrd/core/ledger"
	"github.com/ehrchain/ehrd/core/replication"
	"github.com/ehrchain/ehrd/internal/pkg/control"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("ehr")

// Front-end actions.
const (
	GetChains      = "get_chains"
	CreateChain    = "create_chain"
	GetPatientInfo = "get_patient_info"
	GetRecord      = "get_record"
	AddRecord      = "add_record"
	AddProvider    = "add_provider"
	RemoveProvider = "remove_provider"
)

// Ledger is the part of the ledger engine the front end drives.
type Ledger interface {
	Chains() ([]*ledger.Chain, error)
	CreateChain(chain *ledger.Chain, providerKey string, owners ...ledger.Provider) (*ledger.Block, error)
	Append(chainID string, action ledger.Action, fields map[string]string, providerKey string) (*ledger.Block, error)
	Exclusive(chainID string, fn func(tx *ledger.Tx) error) error
	ReadPatientView(chainID string) (*ledger.PatientView, error)
	ReadRecord(chainID string, blockID uint64) (*ledger.Record, error)
}

// Replicator sends new blocks to the providers of a chain.
type Replicator interface {
	GrantAccess(ctx context.Context, chainID string, newPeer ledger.Provider) (*replication.FanoutReport, error)
	NotifyRecord(ctx context.Context, chainID string, blockID uint64) (*replication.FanoutReport, error)
}

// ProviderRemover revokes a provider and rotates the chain key.
type ProviderRemover interface {
	RemoveProvider(ctx context.Context, chainID, ip, providerKey string) (*keyrotation.Removal, error)
}

// Config identifies the local node.
type Config struct {
	// Self is the provider entry under which this node authorizes itself
	// on the chains it creates.
	Self ledger.Provider
	// ProviderKey is the PEM public key stamped on every block produced
	// locally.
	ProviderKey string
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Service implements control.Handler.
type Service struct {
	ledger     Ledger
	replicator Replicator
	remover    ProviderRemover
	config     Config
	newChainID func() string
	handlers   map[string]handlerFunc
}

var _ control.Handler = (*Service)(nil)

// NewService creates a Service.
func NewService(l Ledger, replicator Replicator, remover ProviderRemover, config Config) *Service {
	s := &Service{
		ledger:     l,
		replicator: replicator,
		remover:    remover,
		config:     config,
		newChainID: uuid.NewString,
	}
	s.handlers = map[string]handlerFunc{
		GetChains:      s.getChains,
		CreateChain:    s.createChain,
		GetPatientInfo: s.getPatientInfo,
		GetRecord:      s.getRecord,
		AddRecord:      s.addRecord,
		AddProvider:    s.addProvider,
		RemoveProvider: s.removeProvider,
	}
	return s
}

// Handle executes req. Every failure is logged and answered with
// {ok: false, data: null}.
func (s *Service) Handle(ctx context.Context, req *control.Request) *control.Response {
	h, ok := s.handlers[req.Action]
	if !ok {
		logger.Warningf("Request %d: unknown action %q", req.ID, req.Action)
		return control.Failed(req.ID)
	}
	data, err := h(ctx, req.Parameters)
	if err != nil {
		logger.Errorf("Request %d (%s) failed: %+v", req.ID, req.Action, err)
		return control.Failed(req.ID)
	}
	return &control.Response{ID: req.ID, OK: true, Data: data}
}

type chainSummary struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
}

func (s *Service) getChains(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	chains, err := s.ledger.Chains()
	if err != nil {
		return nil, err
	}
	summaries := make([]chainSummary, 0, len(chains))
	for _, c := range chains {
		summaries = append(summaries, chainSummary{ID: c.ID, FirstName: c.FirstName, LastName: c.LastName, DateOfBirth: c.DateOfBirth})
	}
	return summaries, nil
}

type createChainParams struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
}

func (s *Service) createChain(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params := &createChainParams{}
	if err := decode(raw, params); err != nil {
		return nil, err
	}
	if params.FirstName == "" || params.LastName == "" || params.DateOfBirth == "" {
		return nil, errors.New("first_name, last_name and date_of_birth are required")
	}

	chainID := s.newChainID()
	_, err := s.ledger.CreateChain(&ledger.Chain{
		ID:          chainID,
		FirstName:   params.FirstName,
		LastName:    params.LastName,
		DateOfBirth: params.DateOfBirth,
	}, s.config.ProviderKey, s.config.Self)
	if err != nil {
		return nil, err
	}
	logger.Infof("Created chain [%s]", chainID)
	return map[string]string{"chain_id": chainID}, nil
}

type chainParams struct {
	ChainID string `json:"chain_id"`
}

func (s *Service) getPatientInfo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params := &chainParams{}
	if err := decodeChain(raw, params, &params.ChainID); err != nil {
		return nil, err
	}
	return s.ledger.ReadPatientView(params.ChainID)
}

type recordParams struct {
	ChainID string `json:"chain_id"`
	BlockID uint64 `json:"block_id"`
}

func (s *Service) getRecord(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params := &recordParams{}
	if err := decodeChain(raw, params, &params.ChainID); err != nil {
		return nil, err
	}
	return s.ledger.ReadRecord(params.ChainID, params.BlockID)
}

type appendResult struct {
	BlockID uint64                    `json:"block_id"`
	Fanout  *replication.FanoutReport `json:"fanout"`
}

// addRecord stores every parameter except chain_id as a record field.
// Non-string values are kept in their JSON form.
func (s *Service) addRecord(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params := map[string]json.RawMessage{}
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	var chainID string
	if err := json.Unmarshal(params["chain_id"], &chainID); err != nil || chainID == "" {
		return nil, errors.New("chain_id is required")
	}
	delete(params, "chain_id")

	fields := make(map[string]string, len(params))
	for name, value := range params {
		var str string
		if err := json.Unmarshal(value, &str); err == nil {
			fields[name] = str
			continue
		}
		fields[name] = strings.TrimSpace(string(value))
	}
	if fields[ledger.FieldSubject] == "" {
		return nil, errors.New("subject is required")
	}

	block, err := s.ledger.Append(chainID, ledger.ActionAddRecord, fields, s.config.ProviderKey)
	if err != nil {
		return nil, err
	}
	report, err := s.replicator.NotifyRecord(ctx, chainID, block.ID)
	if err != nil {
		logger.Errorf("Record block [%d] of chain [%s] not replicated: %s", block.ID, chainID, err)
	}
	return &appendResult{BlockID: block.ID, Fanout: report}, nil
}

type providerParams struct {
	ChainID string `json:"chain_id"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
}

func (s *Service) addProvider(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params := &providerParams{}
	if err := decodeChain(raw, params, &params.ChainID); err != nil {
		return nil, err
	}
	if params.Name == "" || params.IP == "" {
		return nil, errors.New("name and ip are required")
	}
	provider := ledger.Provider{Name: params.Name, IP: params.IP}

	var block *ledger.Block
	err := s.ledger.Exclusive(params.ChainID, func(tx *ledger.Tx) error {
		providers, err := tx.DeriveProviders()
		if err != nil {
			return err
		}
		for _, p := range providers {
			if p == provider {
				return errors.Errorf("provider %s (%s) already authorized on chain %s", p.Name, p.IP, params.ChainID)
			}
		}
		block, err = tx.Append(ledger.ActionAddProvider, map[string]string{
			ledger.FieldName: provider.Name,
			ledger.FieldIP:   provider.IP,
		}, s.config.ProviderKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	report, err := s.replicator.GrantAccess(ctx, params.ChainID, provider)
	if err != nil {
		logger.Errorf("Access to chain [%s] not granted to %s: %s", params.ChainID, provider.IP, err)
	}
	return &appendResult{BlockID: block.ID, Fanout: report}, nil
}

type removalResult struct {
	BlockID  uint64                    `json:"block_id"`
	Rotation *ledger.RotationReport    `json:"rotation"`
	Fanout   *replication.FanoutReport `json:"fanout"`
}

func (s *Service) removeProvider(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	params := &providerParams{}
	if err := decodeChain(raw, params, &params.ChainID); err != nil {
		return nil, err
	}
	if params.IP == "" {
		return nil, errors.New("ip is required")
	}
	removal, err := s.remover.RemoveProvider(ctx, params.ChainID, params.IP, s.config.ProviderKey)
	if err != nil {
		return nil, err
	}
	return &removalResult{BlockID: removal.Block.ID, Rotation: removal.Rotation, Fanout: removal.Fanout}, nil
}

func decode(raw json.RawMessage, params interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing parameters")
	}
	return errors.Wrap(json.Unmarshal(raw, params), "malformed parameters")
}

func decodeChain(raw json.RawMessage, params interface{}, chainID *string) error {
	if err := decode(raw, params); err != nil {
		return err
	}
	if *chainID == "" {
		return errors.New("chain_id is required")
	}
	return nil
}
