package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable marks a transient RPC or subgraph failure after
	// retries were exhausted. Scanners reschedule the range; synchronous
	// callers surface it as a 5xx without retrying.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound marks an unknown pool, token, or network.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange marks a malformed or oversized block range.
	ErrInvalidRange = errors.New("invalid block range")

	// ErrReorgDetected is an internal signal: the canonical hash at a cursor
	// height no longer matches the stored hash. It is consumed by the
	// reconciliation layer and never surfaced to API callers.
	ErrReorgDetected = errors.New("chain reorganization detected")
)

// UpstreamError wraps a provider failure with the range that was being fetched.
type UpstreamError struct {
	Network string
	From    uint64
	To      uint64
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream fetch [%d, %d] failed: %v", e.Network, e.From, e.To, e.Err)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamUnavailable }

// RangeError explains why a requested block range was rejected.
type RangeError struct {
	From    uint64
	To      uint64
	MaxSpan uint64
	Reason  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%d, %d]: %s", e.From, e.To, e.Reason)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }
