// Package coordapi exposes the coordinator over HTTP. Every response
// carries a success flag and either the payload or a client-safe error
// string; internal causes are logged, never serialized.
package coordapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/taoliq/incentived/chain"
	"github.com/taoliq/incentived/claim"
	"github.com/taoliq/incentived/coord"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/positions"
	"github.com/taoliq/incentived/ratelimit"
	"github.com/taoliq/incentived/store"
	"github.com/taoliq/incentived/vote"
)

// Backend is the coordinator surface the API serves.
type Backend interface {
	Version() params.Version
	Store() *store.Store
	Intake() *vote.Intake
	Engine() *vote.Engine
	Claims() *claim.Service
	Fetcher() *positions.Fetcher
	Limits() *ratelimit.Limiter
	Head() vote.HeadSource
	CurrentHolders() *chain.HolderSet
	CurrentRoster() *chain.Roster
	AllVotes(ctx context.Context) ([]coord.DecoratedVote, error)
	PoolSummaries(ctx context.Context) ([]coord.PoolSummary, error)
	PositionViews(ctx context.Context) ([]coord.PositionView, error)
	Weights(ctx context.Context) (map[string]float64, time.Time, error)
}

// Server routes API calls to the backend.
type Server struct {
	backend Backend
	handler http.Handler
}

// New builds the router over backend. The returned server is a plain
// http.Handler; the caller owns the listener.
func New(backend Backend) *Server {
	srv := &Server{backend: backend}

	router := httprouter.New()
	router.NotFound = http.HandlerFunc(srv.unrecognizedCallHandler)

	router.POST("/updateVotes", srv.updateVotesHandler)
	router.POST("/claimAddress", srv.claimAddressHandler)
	router.POST("/ping", srv.pingHandler)

	router.GET("/userVotes/:voter", srv.userVotesHandler)
	router.GET("/allVotes", srv.allVotesHandler)
	router.GET("/voteCooldown/:voter", srv.voteCooldownHandler)
	router.GET("/voteHistory/:voter", srv.voteHistoryHandler)

	router.GET("/allHolders", srv.allHoldersHandler)
	router.GET("/allAddresses", srv.allAddressesHandler)
	router.GET("/allMiners", srv.allMinersHandler)

	router.GET("/pools", srv.poolsHandler)
	router.GET("/positions", srv.positionsHandler)
	router.GET("/positions/:miner", srv.minerPositionsHandler)
	router.GET("/weights", srv.weightsHandler)

	router.GET("/version", srv.versionHandler)

	srv.handler = cors.Default().Handler(router)
	return srv
}

// ServeHTTP implements http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.handler.ServeHTTP(w, r)
}

func (srv *Server) unrecognizedCallHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, "Unrecognized call", http.StatusNotFound)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes the object to the ResponseWriter. If the encoding
// fails, an error is written instead.
func writeJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeError writes the failure envelope with the given message and
// HTTP status.
func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Success: false, Error: msg})
}

// fail maps a pipeline error onto its status code and client message.
func fail(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	switch kind {
	case errs.KindDatabase, errs.KindInternal, errs.KindUnknown:
		log.Error("Request failed", "kind", kind, "err", err)
	case errs.KindRateLimited:
		rateLimitedMeter.Mark(1)
	case errs.KindUpstream:
		upstreamErrorMeter.Mark(1)
	}
	writeError(w, errs.ClientMessage(err), statusFor(kind))
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidInput, errs.KindInvalidPool, errs.KindInvalidBlock,
		errs.KindStaleBlock, errs.KindVersionIncompatible:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindNotAHolder, errs.KindNotRegisteredMiner:
		return http.StatusForbidden
	case errs.KindRateLimited, errs.KindCooldownActive:
		return http.StatusTooManyRequests
	case errs.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes a size-capped JSON body into dst.
func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, params.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Wrap(errs.KindInvalidInput, err)
	}
	return nil
}

// clientIP extracts the caller address for rate limiting, preferring
// the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
