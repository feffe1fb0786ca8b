package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/ingest"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/reconcile"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
	"github.com/GLiquid/dexscreener-adapter/internal/scanner"
	"github.com/GLiquid/dexscreener-adapter/internal/serializer"
)

var (
	poolAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token0Addr = common.HexToAddress("0x2000000000000000000000000000000000000002")
	token1Addr = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

type fakeChain struct {
	head      uint64
	headCalls int
}

func (f *fakeChain) HeadBlockNumber(context.Context) (uint64, error) {
	f.headCalls++
	return f.head, nil
}

func (f *fakeChain) HeaderInfo(_ context.Context, number uint64) (chain.HeaderInfo, error) {
	if number > f.head {
		return chain.HeaderInfo{}, model.ErrNotFound
	}
	return chain.HeaderInfo{Number: number, Hash: common.BigToHash(new(big.Int).SetUint64(number + 1)), Time: number * 12}, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return number * 12, nil
}

type fakeTokens struct {
	tokens map[common.Address]model.Token
}

func (f *fakeTokens) FetchToken(_ context.Context, network string, address common.Address) (model.Token, error) {
	token, ok := f.tokens[address]
	if !ok {
		return model.Token{}, fmt.Errorf("token %s: %w", address.Hex(), model.ErrNotFound)
	}
	token.Network = network
	token.Address = address
	return token, nil
}

type fakeEvents struct {
	events []model.Event
	calls  int
}

func (f *fakeEvents) Events(_ context.Context, from, to uint64, _ []common.Address) ([]model.Event, error) {
	f.calls++
	out := make([]model.Event, 0, len(f.events))
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

type testEnv struct {
	server *httptest.Server
	chain  *fakeChain
	source *fakeEvents
	cache  *reconcile.MemoryCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.New([]string{"ethereum"})
	_, err := reg.Upsert(model.Pool{
		Network:       "ethereum",
		Address:       poolAddr,
		Token0:        token0Addr,
		Token1:        token1Addr,
		Version:       model.VersionAlgebra,
		FeeBps:        30,
		CreationBlock: 10,
		CreationTx:    common.HexToHash("0x0c01"),
	})
	require.NoError(t, err)

	chainSrc := &fakeChain{head: 120}
	source := &fakeEvents{events: []model.Event{{
		Network:     "ethereum",
		Kind:        model.EventSwap,
		Pool:        poolAddr,
		BlockNumber: 50,
		Timestamp:   600,
		TxHash:      common.HexToHash("0x0e01"),
		TxIndex:     1,
		LogIndex:    2,
		Maker:       common.HexToAddress("0x0d01"),
		Amount0:     big.NewInt(-1500000),
		Amount1:     big.NewInt(3000),
	}}}

	cursors := reconcile.NewCursorStore([]string{"ethereum"})
	detector := reconcile.NewDetector(cursors, nil, 64, nil)
	engine := ingest.NewEngine(
		ingest.Config{Network: "ethereum", StartBlock: 1, ConfirmationLag: 20, MaxRangeSpan: 1000},
		chainSrc, source, reg, cursors, detector, nil, nil, nil)

	// One tick seeds the ingestion cursor at the confirmed tip (block 100).
	require.NoError(t, engine.Tick(context.Background()))

	// A runner that has completed its immediate tick, so /health reports a
	// healthy scanner with cursor progress.
	runner := scanner.NewRunner("ethereum", model.ScanIngestion, time.Hour, engine, nil, nil)
	runCtx, cancelRun := context.WithCancel(context.Background())
	cancelRun()
	_ = runner.Run(runCtx)

	tokens := registry.NewTokenCache([]string{"ethereum"})
	fetcher := &fakeTokens{tokens: map[common.Address]model.Token{
		token0Addr: {Symbol: "WETH", Name: "Wrapped Ether", Decimals: 6},
		token1Addr: {Symbol: "USDC", Name: "USD Coin", Decimals: 3},
	}}

	cache := reconcile.NewMemoryCache()
	server := NewServer(Config{
		Registry: reg,
		Tokens:   tokens,
		Cache:    cache,
		Networks: map[string]*NetworkBackend{
			"ethereum": {
				Heads:           chainSrc,
				Timestamps:      chainSrc,
				Tokens:          fetcher,
				Ingest:          engine,
				ConfirmationLag: 20,
			},
		},
		Runners: []*scanner.Runner{runner},
	})

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, chain: chainSrc, source: source, cache: cache}
}

func get(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLatestBlockCappedByIngestionCursor(t *testing.T) {
	env := newTestEnv(t)

	var resp serializer.LatestBlockResponse
	status := get(t, env.server.URL+"/ethereum/latest-block", &resp)
	require.Equal(t, http.StatusOK, status)
	// Head 120, lag 20, ingestion cursor 100.
	require.Equal(t, uint64(100), resp.Block.BlockNumber)
	require.Equal(t, uint64(1200), resp.Block.BlockTimestamp)
}

func TestAssetEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var resp serializer.AssetResponse
	status := get(t, env.server.URL+"/ethereum/asset?id="+token0Addr.Hex(), &resp)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "WETH", resp.Asset.Symbol)

	status = get(t, env.server.URL+"/ethereum/asset?id=0x4000000000000000000000000000000000000004", nil)
	require.Equal(t, http.StatusNotFound, status)

	status = get(t, env.server.URL+"/ethereum/asset?id=nonsense", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestPairEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var resp serializer.PairResponse
	status := get(t, env.server.URL+"/ethereum/pair?id="+poolAddr.Hex(), &resp)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "algebra-ethereum", resp.Pair.DexKey)
	require.Equal(t, uint64(10), resp.Pair.CreatedAtBlockNumber)
	require.Equal(t, uint32(30), resp.Pair.FeeBps)
	require.Equal(t, "WETH", resp.Pair.Metadata["token0Symbol"])

	status = get(t, env.server.URL+"/ethereum/pair?id=0x4000000000000000000000000000000000000004", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var resp serializer.EventsResponse
	status := get(t, env.server.URL+"/ethereum/events?fromBlock=40&toBlock=60", &resp)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Events, 1)

	event := resp.Events[0]
	require.Equal(t, "swap", event.EventType)
	require.Equal(t, "1.5", event.Asset0Out)
	require.Equal(t, "3", event.Asset1In)
	require.Equal(t, "0.5", event.PriceNative)
	require.Nil(t, event.Reserves)
}

func TestEventsRangeValidation(t *testing.T) {
	env := newTestEnv(t)

	// Inverted and oversized ranges fail fast with no upstream traffic.
	headCalls := env.chain.headCalls
	sourceCalls := env.source.calls
	status := get(t, env.server.URL+"/ethereum/events?fromBlock=60&toBlock=40", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status = get(t, env.server.URL+"/ethereum/events?fromBlock=1&toBlock=5000", nil)
	require.Equal(t, http.StatusBadRequest, status)

	require.Equal(t, headCalls, env.chain.headCalls)
	require.Equal(t, sourceCalls, env.source.calls)

	status = get(t, env.server.URL+"/ethereum/events?fromBlock=40", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestEventsClampedToConfirmedTip(t *testing.T) {
	env := newTestEnv(t)

	// Range entirely above the confirmed tip (100) yields an empty set.
	sourceCalls := env.source.calls
	var resp serializer.EventsResponse
	status := get(t, env.server.URL+"/ethereum/events?fromBlock=110&toBlock=115", &resp)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, resp.Events)
	require.Equal(t, sourceCalls, env.source.calls)
}

func TestUnknownNetwork(t *testing.T) {
	env := newTestEnv(t)
	status := get(t, env.server.URL+"/solana/latest-block", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestResponseCacheReadThrough(t *testing.T) {
	env := newTestEnv(t)

	status := get(t, env.server.URL+"/ethereum/latest-block", nil)
	require.Equal(t, http.StatusOK, status)
	calls := env.chain.headCalls

	status = get(t, env.server.URL+"/ethereum/latest-block", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, calls, env.chain.headCalls)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string           `json:"status"`
		Scanners []scanner.Status `json:"scanners"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)

	require.Len(t, body.Scanners, 1)
	require.True(t, body.Scanners[0].Healthy)
	require.Equal(t, "ingestion", body.Scanners[0].ScanType)
	// Cursor sits at head 120 minus the confirmation lag of 20.
	require.Equal(t, uint64(100), body.Scanners[0].CursorBlock)
	require.Equal(t, uint64(20), body.Scanners[0].CursorLag)
}
