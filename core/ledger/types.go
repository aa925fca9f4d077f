/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"fmt"

	"github.com/ehrchain/ehrd/common/crypto"
)

// GenesisPreviousHash is the previous_hash carried by block 0 of every chain.
const GenesisPreviousHash = "0"

// Action discriminates the payload of a block.
type Action string

const (
	ActionGenesis        Action = "genesis"
	ActionAddProvider    Action = "add-provider"
	ActionRemoveProvider Action = "remove-provider"
	ActionAddRecord      Action = "add-record"
)

// Field names understood by the ledger when projecting block payloads.
const (
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldDateOfBirth = "date_of_birth"
	FieldName        = "name"
	FieldIP          = "ip"
	FieldSubject     = "subject"
)

// Chain is the per-subject ledger header.
type Chain struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Active      bool   `json:"active"`
}

// Block is one hash-linked, encrypted entry of a chain. Data holds the hex
// ciphertext of a serialized BlockData and is the only field that ever
// changes after the block is stored.
type Block struct {
	ChainID      string `json:"chain_id"`
	ID           uint64 `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	Data         string `json:"data"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
	ProviderKey  string `json:"provider_key"`
	DataHash     string `json:"data_hash"`
}

// BlockData is the decrypted payload of a block.
type BlockData struct {
	Action Action            `json:"action"`
	Fields map[string]string `json:"fields"`
}

// Provider is an authorized party derived from the add/remove history of a
// chain.
type Provider struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// RecordRef indexes an add-record block within a patient view.
type RecordRef struct {
	Timestamp int64  `json:"timestamp"`
	Subject   string `json:"subject"`
	BlockID   uint64 `json:"block_id"`
}

// PatientView is the decrypted projection of a whole chain.
type PatientView struct {
	ChainID     string      `json:"chain_id"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	DateOfBirth string      `json:"date_of_birth"`
	Providers   []Provider  `json:"providers"`
	Records     []RecordRef `json:"records"`
}

// Record is the decrypted content of a single add-record block.
type Record struct {
	BlockID     uint64            `json:"block_id"`
	Timestamp   int64             `json:"timestamp"`
	ProviderKey string            `json:"provider_key"`
	Fields      map[string]string `json:"fields"`
}

// ComputeHash returns the aggregate hash of a block. The ciphertext is not
// part of the preimage, only its plaintext digest, so Data can be replaced
// during key rotation without changing the result.
func ComputeHash(b *Block) string {
	preimage := fmt.Sprintf("%s%d%d%s%s%s", b.ChainID, b.ID, b.Timestamp, b.PreviousHash, b.ProviderKey, b.DataHash)
	return crypto.Hash([]byte(preimage))
}
