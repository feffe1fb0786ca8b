package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/scanner"
	"github.com/GLiquid/dexscreener-adapter/internal/serializer"
)

type healthResponse struct {
	Status   string           `json:"status"`
	Scanners []scanner.Status `json:"scanners"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	for _, runner := range s.runners {
		status := runner.Status()
		if !status.Healthy {
			resp.Status = "degraded"
		}
		resp.Scanners = append(resp.Scanners, status)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, body)
}

// confirmedTip is the highest block the API exposes: the chain head minus
// the confirmation lag, further capped by the ingestion cursor so callers
// never see a block whose events are not fully processed.
func (s *Server) confirmedTip(ctx context.Context, backend *NetworkBackend) (uint64, error) {
	head, err := backend.Heads.HeadBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	tip := uint64(0)
	if head > backend.ConfirmationLag {
		tip = head - backend.ConfirmationLag
	}
	if cursor, ok := backend.Ingest.Cursor(); ok && cursor.Block < tip {
		tip = cursor.Block
	}
	return tip, nil
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	network := mux.Vars(r)["network"]
	backend, err := s.backend(network)
	if err != nil {
		s.respondError(w, err)
		return
	}

	body, err := s.cached(r.Context(), network, "latest-block", "", s.ttls.Blocks, func() (interface{}, error) {
		tip, err := s.confirmedTip(r.Context(), backend)
		if err != nil {
			return nil, err
		}
		timestamp, err := backend.Timestamps.BlockTimestamp(r.Context(), tip)
		if err != nil {
			return nil, err
		}
		return serializer.LatestBlockResponse{Block: serializer.SerializeBlock(tip, timestamp)}, nil
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, body)
}

func parseAddress(r *http.Request) (common.Address, error) {
	id := r.URL.Query().Get("id")
	if !common.IsHexAddress(id) {
		return common.Address{}, &apiError{status: http.StatusBadRequest, message: "invalid or missing id parameter"}
	}
	return common.HexToAddress(id), nil
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	network := mux.Vars(r)["network"]
	backend, err := s.backend(network)
	if err != nil {
		s.respondError(w, err)
		return
	}
	address, err := parseAddress(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	body, err := s.cached(r.Context(), network, "asset", address.Hex(), s.ttls.Assets, func() (interface{}, error) {
		token, err := s.tokens.ResolveFrom(r.Context(), backend.Tokens, network, address)
		if err != nil {
			return nil, err
		}
		return serializer.AssetResponse{Asset: serializer.SerializeAsset(token)}, nil
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, body)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	network := mux.Vars(r)["network"]
	backend, err := s.backend(network)
	if err != nil {
		s.respondError(w, err)
		return
	}
	address, err := parseAddress(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	body, err := s.cached(r.Context(), network, "pair", address.Hex(), s.ttls.Pairs, func() (interface{}, error) {
		pool, err := s.registry.Get(network, address)
		if err != nil {
			return nil, err
		}
		token0, err := s.tokens.ResolveFrom(r.Context(), backend.Tokens, network, pool.Token0)
		if err != nil {
			return nil, err
		}
		token1, err := s.tokens.ResolveFrom(r.Context(), backend.Tokens, network, pool.Token1)
		if err != nil {
			return nil, err
		}

		// Creation timestamp is informative; a failed lookup leaves it out.
		createdAt, err := backend.Timestamps.BlockTimestamp(r.Context(), pool.CreationBlock)
		if err != nil {
			createdAt = 0
		}
		return serializer.PairResponse{Pair: serializer.SerializePair(pool, token0, token1, createdAt)}, nil
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, body)
}

func parseBlockParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, &apiError{status: http.StatusBadRequest, message: "missing " + name + " parameter"}
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &apiError{status: http.StatusBadRequest, message: "invalid " + name + " parameter"}
	}
	return value, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	network := mux.Vars(r)["network"]
	backend, err := s.backend(network)
	if err != nil {
		s.respondError(w, err)
		return
	}
	from, err := parseBlockParam(r, "fromBlock")
	if err != nil {
		s.respondError(w, err)
		return
	}
	to, err := parseBlockParam(r, "toBlock")
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Reject malformed ranges before touching any upstream.
	if to < from {
		s.respondError(w, &model.RangeError{From: from, To: to, MaxSpan: backend.Ingest.MaxRangeSpan(), Reason: "toBlock below fromBlock"})
		return
	}
	if span := to - from + 1; span > backend.Ingest.MaxRangeSpan() {
		s.respondError(w, &model.RangeError{From: from, To: to, MaxSpan: backend.Ingest.MaxRangeSpan(),
			Reason: fmt.Sprintf("span %d exceeds maximum %d", span, backend.Ingest.MaxRangeSpan())})
		return
	}

	params := fmt.Sprintf("%d-%d", from, to)
	body, err := s.cached(r.Context(), network, "events", params, s.ttls.Events, func() (interface{}, error) {
		// Cap the visible range at the confirmed, fully ingested tip.
		tip, err := s.confirmedTip(r.Context(), backend)
		if err != nil {
			return nil, err
		}
		clamped := to
		if clamped > tip {
			clamped = tip
		}
		if from > clamped {
			return serializer.EventsResponse{Events: []serializer.Event{}}, nil
		}

		events, err := backend.Ingest.Events(r.Context(), from, clamped)
		if err != nil {
			return nil, err
		}
		return s.serializeEvents(r.Context(), backend, network, events)
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, body)
}

func (s *Server) serializeEvents(ctx context.Context, backend *NetworkBackend, network string, events []model.Event) (serializer.EventsResponse, error) {
	type poolDecimals struct {
		dec0, dec1 uint8
	}
	decimals := make(map[common.Address]poolDecimals)

	resp := serializer.EventsResponse{Events: make([]serializer.Event, 0, len(events))}
	for _, event := range events {
		dec, ok := decimals[event.Pool]
		if !ok {
			pool, err := s.registry.Get(network, event.Pool)
			if err != nil {
				return serializer.EventsResponse{}, err
			}
			token0, err := s.tokens.ResolveFrom(ctx, backend.Tokens, network, pool.Token0)
			if err != nil {
				return serializer.EventsResponse{}, err
			}
			token1, err := s.tokens.ResolveFrom(ctx, backend.Tokens, network, pool.Token1)
			if err != nil {
				return serializer.EventsResponse{}, err
			}
			dec = poolDecimals{dec0: token0.Decimals, dec1: token1.Decimals}
			decimals[event.Pool] = dec
		}
		resp.Events = append(resp.Events, serializer.SerializeEvent(event, dec.dec0, dec.dec1))
	}
	return resp, nil
}
