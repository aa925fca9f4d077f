/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package errors defines the typed failures surfaced by the ledger, the key
// rotation coordinator and the replication layer. Callers classify errors
// with the Is* predicates, which see through github.com/pkg/errors wrapping.
package errors

import (
	"errors"
	"fmt"
)

// NotFoundError indicates that a chain, shared key or block
// is absent from the local store
type NotFoundError struct {
	Kind string
	ID   string
}

// Error returns reasons which lead to the failure
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// DecryptionError indicates that a ciphertext could not be decrypted,
// either because it is malformed or because the key is wrong
type DecryptionError struct {
	Reason string
}

// Error returns reasons which lead to the failure
func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

// IntegrityMismatchError indicates that a recomputed hash disagrees
// with the stored one
type IntegrityMismatchError struct {
	ChainID  string
	BlockID  uint64
	Expected string
	Actual   string
}

// Error returns reasons which lead to the failure
func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch on chain %s block %d: expected hash %s, got %s", e.ChainID, e.BlockID, e.Expected, e.Actual)
}

// OutOfOrderBlockError indicates that an inbound block does not extend the
// local chain by exactly one
type OutOfOrderBlockError struct {
	ChainID  string
	Expected uint64
	Got      uint64
}

// Error returns reasons which lead to the failure
func (e *OutOfOrderBlockError) Error() string {
	return fmt.Sprintf("out of order block on chain %s: expected id %d, got %d", e.ChainID, e.Expected, e.Got)
}

// PersistenceError wraps a failure of the local store
type PersistenceError struct {
	Op  string
	Err error
}

// Error returns reasons which lead to the failure
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %s", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransportError indicates that a peer could not be reached or the
// exchange with it failed
type TransportError struct {
	Address string
	Err     error
}

// Error returns reasons which lead to the failure
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure with %s: %s", e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFound returns a NotFoundError for the given kind and id.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// Persistence wraps err as a PersistenceError, returning nil when err is nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsDecryption reports whether err wraps a *DecryptionError.
func IsDecryption(err error) bool {
	var target *DecryptionError
	return errors.As(err, &target)
}

// IsIntegrityMismatch reports whether err wraps an *IntegrityMismatchError.
func IsIntegrityMismatch(err error) bool {
	var target *IntegrityMismatchError
	return errors.As(err, &target)
}

// IsOutOfOrder reports whether err wraps an *OutOfOrderBlockError.
func IsOutOfOrder(err error) bool {
	var target *OutOfOrderBlockError
	return errors.As(err, &target)
}

// IsPersistence reports whether err wraps a *PersistenceError.
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsTransport reports whether err wraps a *TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}
