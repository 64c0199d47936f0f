package services

import "fmt"

// ErrorKind classifies a LedgerError, so callers and batch jobs can
// decide between surfacing, rejecting and collecting without string
// matching.
type ErrorKind string

const (
	// KindConfig marks invalid or missing billing configuration.
	KindConfig ErrorKind = "config"
	// KindInvariant marks a rejected operation that would break a
	// business invariant, e.g. paying a fatura from another credit card.
	KindInvariant ErrorKind = "invariant"
	// KindConflict marks state conflicts such as paying an already paid
	// period.
	KindConflict ErrorKind = "conflict"
	// KindStorage marks underlying persistence failures.
	KindStorage ErrorKind = "storage"
)

// LedgerError is the tagged result type for ledger operations.
type LedgerError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

func configErr(op string, err error) *LedgerError {
	return &LedgerError{Kind: KindConfig, Op: op, Err: err}
}

func invariantErr(op string, err error) *LedgerError {
	return &LedgerError{Kind: KindInvariant, Op: op, Err: err}
}

func conflictErr(op string, err error) *LedgerError {
	return &LedgerError{Kind: KindConflict, Op: op, Err: err}
}

func storageErr(op string, err error) *LedgerError {
	return &LedgerError{Kind: KindStorage, Op: op, Err: err}
}
