package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ScanType distinguishes the two incremental scanners a network runs.
type ScanType string

const (
	ScanDiscovery ScanType = "discovery"
	ScanIngestion ScanType = "ingestion"
)

// ScanCursor records the last block fully processed by one scanner together
// with the canonical hash observed at that height. The hash is compared on
// the next tick to detect chain reorganizations.
type ScanCursor struct {
	Block     uint64      `json:"block"`
	BlockHash common.Hash `json:"block_hash"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsZero reports whether the cursor has never been set.
func (c ScanCursor) IsZero() bool {
	return c.Block == 0 && c.BlockHash == (common.Hash{})
}
