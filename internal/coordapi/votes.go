package coordapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/taoliq/incentived/coord"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/store"
	"github.com/taoliq/incentived/vote"
)

type updateVotesResponse struct {
	Success bool              `json:"success"`
	Pools   []vote.PoolWeight `json:"pools"`
	Block   uint64            `json:"block"`
}

func (srv *Server) updateVotesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req vote.Request
	if err := readJSON(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	req.ClientIP = clientIP(r)

	res, err := srv.backend.Intake().Submit(r.Context(), req)
	if err != nil {
		voteRejectedMeter.Mark(1)
		fail(w, err)
		return
	}
	voteAcceptedMeter.Mark(1)
	writeJSON(w, updateVotesResponse{Success: true, Pools: res.Pools, Block: res.Block})
}

type userVotesResponse struct {
	Success   bool              `json:"success"`
	Voter     string            `json:"voter"`
	Pools     []vote.PoolWeight `json:"pools"`
	Block     uint64            `json:"block"`
	UpdatedAt int64             `json:"updatedAt"`
}

func (srv *Server) userVotesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	voter := ps.ByName("voter")
	v, err := srv.backend.Store().GetVote(r.Context(), voter)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "No vote found", http.StatusNotFound)
		return
	}
	if err != nil {
		fail(w, errs.Wrap(errs.KindDatabase, err))
		return
	}
	pools, err := vote.DecodePools(v.PoolsJSON)
	if err != nil {
		fail(w, errs.Wrap(errs.KindInternal, err))
		return
	}
	writeJSON(w, userVotesResponse{
		Success:   true,
		Voter:     v.Voter,
		Pools:     pools,
		Block:     v.BlockNumber,
		UpdatedAt: v.UpdatedAt,
	})
}

type allVotesResponse struct {
	Success bool                  `json:"success"`
	Votes   []coord.DecoratedVote `json:"votes"`
	Count   int                   `json:"count"`
}

func (srv *Server) allVotesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	votes, err := srv.backend.AllVotes(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, allVotesResponse{Success: true, Votes: votes, Count: len(votes)})
}

type voteCooldownResponse struct {
	Success             bool   `json:"success"`
	Voter               string `json:"voter"`
	Active              bool   `json:"active"`
	ChangeCount         int    `json:"changeCount"`
	RemainingSeconds    int64  `json:"remainingSeconds"`
	NextCooldownSeconds int64  `json:"nextCooldownSeconds"`
}

func (srv *Server) voteCooldownHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	voter := ps.ByName("voter")
	status, err := srv.backend.Engine().StatusFor(r.Context(), voter)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, voteCooldownResponse{
		Success:             true,
		Voter:               voter,
		Active:              status.Active,
		ChangeCount:         status.ChangeCount,
		RemainingSeconds:    int64(status.Remaining / time.Second),
		NextCooldownSeconds: int64(status.NextDuration / time.Second),
	})
}

type voteChangeEntry struct {
	OldPools      []vote.PoolWeight `json:"oldPools"`
	NewPools      []vote.PoolWeight `json:"newPools"`
	ChangedAt     int64             `json:"changedAt"`
	CooldownUntil int64             `json:"cooldownUntil"`
	ChangeCount   int               `json:"changeCount"`
}

type voteHistoryResponse struct {
	Success bool              `json:"success"`
	Voter   string            `json:"voter"`
	Current []vote.PoolWeight `json:"current,omitempty"`
	History []voteChangeEntry `json:"history"`
}

const voteHistoryLimit = 50

func (srv *Server) voteHistoryHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	voter := ps.ByName("voter")
	rows, err := srv.backend.Store().VoteHistory(r.Context(), voter, voteHistoryLimit)
	if err != nil {
		fail(w, errs.Wrap(errs.KindDatabase, err))
		return
	}

	resp := voteHistoryResponse{Success: true, Voter: voter, History: make([]voteChangeEntry, 0, len(rows))}
	for _, vc := range rows {
		entry := voteChangeEntry{
			ChangedAt:     vc.ChangeTimestamp,
			CooldownUntil: vc.CooldownUntil,
			ChangeCount:   vc.ChangeCount,
		}
		if pools, err := vote.DecodePools(vc.OldPoolsJSON); err == nil {
			entry.OldPools = pools
		}
		if pools, err := vote.DecodePools(vc.NewPoolsJSON); err == nil {
			entry.NewPools = pools
		}
		resp.History = append(resp.History, entry)
	}

	if v, err := srv.backend.Store().GetVote(r.Context(), voter); err == nil {
		if pools, err := vote.DecodePools(v.PoolsJSON); err == nil {
			resp.Current = pools
		}
	}
	writeJSON(w, resp)
}
