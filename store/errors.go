// Package store provides the PostgreSQL persistence layer: credit
// accounts and their append-only transaction ledger, search runs, grants,
// and scheduled searches.
package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status update would violate
	// the run state machine (e.g. mutating a terminal run).
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrLedgerInvariant is returned when the stored account balance does
	// not reconcile with its lifetime totals. This is a programmer error;
	// it is never auto-corrected and aborts the operation that found it.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
)
