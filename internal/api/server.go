// Package api implements the HTTP query endpoints.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/DemoYeti/bitcoin-canister/internal/blocktree"
	klog "github.com/DemoYeti/bitcoin-canister/internal/log"
	"github.com/DemoYeti/bitcoin-canister/internal/metrics"
	"github.com/DemoYeti/bitcoin-canister/internal/state"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// maxBodySize is the maximum allowed request body size (8 MB, above the
// consensus block size limit).
const maxBodySize = 8 << 20

// Gateway serializes access to the engine. The engine itself is
// single-threaded cooperative; the gateway is where HTTP concurrency
// meets that model.
type Gateway interface {
	// Do runs fn with exclusive access to the state.
	Do(fn func(s *state.State) error) error
}

// Server is the HTTP query server.
type Server struct {
	addr    string
	gateway Gateway
	syncing bool
	server  *http.Server
	ln      net.Listener
	logger  zerolog.Logger
}

// New creates a query server over the given gateway.
func New(addr string, gateway Gateway, syncing bool) *Server {
	return &Server{
		addr:    addr,
		gateway: gateway,
		syncing: syncing,
		logger:  klog.WithComponent("api"),
	}
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/height", s.handleHeight)
	mux.HandleFunc("GET /v1/utxos/{address}", s.handleUtxos)
	mux.HandleFunc("GET /v1/balance/{address}", s.handleBalance)
	mux.HandleFunc("POST /v1/blocks", s.handleSubmitBlock)
	mux.Handle("GET /metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("api server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// guard rejects queries while the API is disabled or the engine is
// still catching up.
func guard(w http.ResponseWriter, s *state.State) bool {
	if !s.APIEnabled() {
		writeError(w, http.StatusServiceUnavailable, "api is disabled")
		return false
	}
	return true
}

type heightResponse struct {
	StableHeight    uint32 `json:"stable_height"`
	MainChainHeight uint32 `json:"main_chain_height"`
	FullySynced     bool   `json:"fully_synced"`
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	_ = s.gateway.Do(func(st *state.State) error {
		if !guard(w, st) {
			return nil
		}
		writeJSON(w, http.StatusOK, heightResponse{
			StableHeight:    st.StableHeight(),
			MainChainHeight: st.MainChainHeight(),
			FullySynced:     st.IsFullySynced(),
		})
		return nil
	})
}

type utxoResponse struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Script string `json:"script"`
	Height uint32 `json:"height"`
}

func (s *Server) handleUtxos(w http.ResponseWriter, r *http.Request) {
	_ = s.gateway.Do(func(st *state.State) error {
		if !guard(w, st) {
			return nil
		}
		addr, err := types.ParseAddress(r.PathValue("address"), st.Network())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil
		}

		utxos, err := st.GetUtxos(addr).GetUtxos()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return nil
		}

		resp := make([]utxoResponse, 0, len(utxos))
		for _, u := range utxos {
			resp = append(resp, utxoResponse{
				TxID:   u.Outpoint.Hash.String(),
				Vout:   u.Outpoint.Index,
				Value:  u.Output.Value,
				Script: hex.EncodeToString(u.Output.PkScript),
				Height: u.Height,
			})
		}
		writeJSON(w, http.StatusOK, resp)
		return nil
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	_ = s.gateway.Do(func(st *state.State) error {
		if !guard(w, st) {
			return nil
		}
		addr, err := types.ParseAddress(r.PathValue("address"), st.Network())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil
		}

		balance, err := st.GetUtxos(addr).Balance()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return nil
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"address": addr.String(),
			"balance": strconv.FormatUint(balance, 10),
		})
		return nil
	})
}

// handleSubmitBlock accepts a raw consensus-encoded block from the
// external fetcher. It is gated by the syncing flag, not by API access.
func (s *Server) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	if !s.syncing {
		writeError(w, http.StatusForbidden, "syncing is disabled")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_ = s.gateway.Do(func(st *state.State) error {
		block, err := btcutil.NewBlockFromBytes(raw)
		if err != nil {
			st.Syncing.NumBlockDeserializeErrors++
			writeError(w, http.StatusBadRequest, "malformed block: "+err.Error())
			return nil
		}

		if err := state.InsertBlock(st, block); err != nil {
			status := http.StatusBadRequest
			var notExtend *blocktree.BlockDoesNotExtendTreeError
			if errors.As(err, &notExtend) {
				status = http.StatusConflict
			}
			writeError(w, status, err.Error())
			return nil
		}

		// Drive ingestion forward; a pause is resumed by the node loop.
		state.IngestStableBlocksIntoUtxoSet(st)
		metrics.Observe(st)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"hash":              block.Hash().String(),
			"main_chain_height": st.MainChainHeight(),
		})
		return nil
	})
}
