package model

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownSchema   = errors.New("unknown event schema")
	ErrDuplicateSchema = errors.New("duplicate event schema")
	ErrMalformedLog    = errors.New("malformed log")
	ErrProvider        = errors.New("provider error")
	ErrFetch           = errors.New("fetch failed")
	ErrInvalidFilter   = errors.New("invalid filter")
)

// UnknownSchemaError is returned when a signature hash or name is not registered.
type UnknownSchemaError struct {
	SignatureHash common.Hash
	Name          string
}

func (e *UnknownSchemaError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown event schema %q", e.Name)
	}
	return fmt.Sprintf("unknown event schema %s", e.SignatureHash.Hex())
}

func (e *UnknownSchemaError) Is(target error) bool { return target == ErrUnknownSchema }

// DuplicateSchemaError is returned when a signature hash is registered twice.
type DuplicateSchemaError struct {
	SignatureHash common.Hash
	Name          string
	Existing      string
}

func (e *DuplicateSchemaError) Error() string {
	return fmt.Sprintf("event schema %s (%s) already registered as %s", e.Name, e.SignatureHash.Hex(), e.Existing)
}

func (e *DuplicateSchemaError) Is(target error) bool { return target == ErrDuplicateSchema }

// MalformedLogError means a log does not fit the schema its topic0 names.
type MalformedLogError struct {
	Schema   string
	TxHash   common.Hash
	LogIndex uint
	Reason   string
	Err      error
}

func (e *MalformedLogError) Error() string {
	msg := fmt.Sprintf("malformed %s log %s:%d: %s", e.Schema, e.TxHash.Hex(), e.LogIndex, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedLogError) Unwrap() error { return e.Err }

func (e *MalformedLogError) Is(target error) bool { return target == ErrMalformedLog }

// ProviderError wraps a transport or node failure from the chain client.
type ProviderError struct {
	Op  string
	Err error
}

func NewProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider %s: %v", e.Op, e.Err) }

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// FetchError reports a chunk that failed after exhausting its retries.
type FetchError struct {
	From     uint64
	To       uint64
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch blocks [%d, %d] failed after %d attempts: %v", e.From, e.To, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }
