package coordapi

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/taoliq/incentived/coord"
)

type poolsResponse struct {
	Success bool                `json:"success"`
	Pools   []coord.PoolSummary `json:"pools"`
	Count   int                 `json:"count"`
}

func (srv *Server) poolsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	pools, err := srv.backend.PoolSummaries(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, poolsResponse{Success: true, Pools: pools, Count: len(pools)})
}

type positionsResponse struct {
	Success   bool                 `json:"success"`
	Positions []coord.PositionView `json:"positions"`
	Count     int                  `json:"count"`
}

func (srv *Server) positionsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	srv.servePositions(w, r, r.URL.Query().Get("hotkey"), r.URL.Query().Get("pool"))
}

func (srv *Server) minerPositionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	srv.servePositions(w, r, ps.ByName("miner"), r.URL.Query().Get("pool"))
}

func (srv *Server) servePositions(w http.ResponseWriter, r *http.Request, hotkey, pool string) {
	views, err := srv.backend.PositionViews(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	pool = strings.ToLower(pool)
	out := make([]coord.PositionView, 0, len(views))
	for _, v := range views {
		if hotkey != "" && v.Miner != hotkey {
			continue
		}
		if pool != "" && v.Pool != pool {
			continue
		}
		out = append(out, v)
	}
	writeJSON(w, positionsResponse{Success: true, Positions: out, Count: len(out)})
}

type weightsResponse struct {
	Success   bool               `json:"success"`
	Weights   map[string]float64 `json:"weights"`
	UpdatedAt int64              `json:"updatedAt"`
}

func (srv *Server) weightsHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	weights, at, err := srv.backend.Weights(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, weightsResponse{Success: true, Weights: weights, UpdatedAt: at.Unix()})
}
