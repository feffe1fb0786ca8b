package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/storage"
)

// Store provides Postgres persistence for the pool registry and scan cursors.
type Store struct {
	pool *pgxpool.Pool
}

// schema is applied on startup so a fresh database needs no manual setup.
// Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pools (
		network        text        NOT NULL,
		pool_address   text        NOT NULL,
		token0         text        NOT NULL,
		token1         text        NOT NULL,
		version        text        NOT NULL,
		fee_bps        bigint      NOT NULL,
		creation_block bigint      NOT NULL,
		creation_tx    text        NOT NULL,
		creator        text        NOT NULL,
		discovered_at  timestamptz NOT NULL,
		updated_at     timestamptz NOT NULL,
		PRIMARY KEY (network, pool_address)
	)`,
	`CREATE TABLE IF NOT EXISTS scan_cursors (
		network    text        NOT NULL,
		scan_type  text        NOT NULL,
		block      bigint      NOT NULL,
		block_hash text        NOT NULL,
		updated_at timestamptz NOT NULL,
		PRIMARY KEY (network, scan_type)
	)`,
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SavePools upserts pool registry entries, keeping the earliest creation
// block for an existing (network, address) pair.
func (s *Store) SavePools(ctx context.Context, network string, pools []model.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				network, pool_address, token0, token1, version, fee_bps,
				creation_block, creation_tx, creator, discovered_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (network, pool_address)
			DO UPDATE SET
				token0 = EXCLUDED.token0,
				token1 = EXCLUDED.token1,
				version = EXCLUDED.version,
				fee_bps = EXCLUDED.fee_bps,
				creation_block = LEAST(pools.creation_block, EXCLUDED.creation_block),
				updated_at = now()
		`,
			network,
			pool.Address.Hex(),
			pool.Token0.Hex(),
			pool.Token1.Hex(),
			pool.Version,
			int64(pool.FeeBps),
			int64(pool.CreationBlock),
			pool.CreationTx.Hex(),
			pool.Creator.Hex(),
			pool.DiscoveredAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPools reads every pool persisted for a network.
func (s *Store) LoadPools(ctx context.Context, network string) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pool_address, token0, token1, version, fee_bps,
		       creation_block, creation_tx, creator, discovered_at
		FROM pools
		WHERE network = $1
	`, network)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var (
			address, token0, token1, version, creationTx, creator string
			feeBps, creationBlock                                 int64
			pool                                                  model.Pool
		)
		if err := rows.Scan(&address, &token0, &token1, &version, &feeBps, &creationBlock, &creationTx, &creator, &pool.DiscoveredAt); err != nil {
			return nil, err
		}
		pool.Network = network
		pool.Address = common.HexToAddress(address)
		pool.Token0 = common.HexToAddress(token0)
		pool.Token1 = common.HexToAddress(token1)
		pool.Version = version
		pool.FeeBps = uint32(feeBps)
		pool.CreationBlock = uint64(creationBlock)
		pool.CreationTx = common.HexToHash(creationTx)
		pool.Creator = common.HexToAddress(creator)
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

// SaveCursor upserts the cursor for (network, scan type).
func (s *Store) SaveCursor(ctx context.Context, network string, scanType model.ScanType, cursor model.ScanCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_cursors (network, scan_type, block, block_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network, scan_type)
		DO UPDATE SET
			block = EXCLUDED.block,
			block_hash = EXCLUDED.block_hash,
			updated_at = EXCLUDED.updated_at
	`, network, string(scanType), int64(cursor.Block), cursor.BlockHash.Hex(), cursor.UpdatedAt)
	return err
}

// LoadCursor reads the cursor for (network, scan type).
func (s *Store) LoadCursor(ctx context.Context, network string, scanType model.ScanType) (model.ScanCursor, bool, error) {
	var (
		block  int64
		hash   string
		cursor model.ScanCursor
	)
	err := s.pool.QueryRow(ctx, `
		SELECT block, block_hash, updated_at
		FROM scan_cursors
		WHERE network = $1 AND scan_type = $2
	`, network, string(scanType)).Scan(&block, &hash, &cursor.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ScanCursor{}, false, nil
		}
		return model.ScanCursor{}, false, err
	}
	cursor.Block = uint64(block)
	cursor.BlockHash = common.HexToHash(hash)
	return cursor, true, nil
}

var _ storage.Store = (*Store)(nil)
