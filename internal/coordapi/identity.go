package coordapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/taoliq/incentived/claim"
	"github.com/taoliq/incentived/errs"
)

type claimAddressResponse struct {
	Success    bool   `json:"success"`
	Voter      string `json:"voter"`
	EVMAddress string `json:"evmAddress"`
	Message    string `json:"message"`
}

func (srv *Server) claimAddressHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req claim.Request
	if err := readJSON(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	req.ClientIP = clientIP(r)

	res, err := srv.backend.Claims().Submit(r.Context(), req)
	if err != nil {
		fail(w, err)
		return
	}
	msg := "address linked"
	if res.AlreadyLinked {
		msg = "already linked"
	} else {
		claimLinkedMeter.Mark(1)
	}
	writeJSON(w, claimAddressResponse{
		Success:    true,
		Voter:      res.Voter,
		EVMAddress: res.EVMAddress,
		Message:    msg,
	})
}

type holderBalances struct {
	Alpha uint64 `json:"alpha"`
	Tao   uint64 `json:"tao"`
}

type allHoldersResponse struct {
	Success   bool                      `json:"success"`
	Holders   map[string]holderBalances `json:"holders"`
	Count     int                       `json:"count"`
	Block     uint64                    `json:"block"`
	UpdatedAt int64                     `json:"updatedAt"`
}

func (srv *Server) allHoldersHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	hs := srv.backend.CurrentHolders()
	if hs == nil {
		fail(w, errs.New(errs.KindUpstream))
		return
	}
	holders := make(map[string]holderBalances, len(hs.Alpha))
	for addr, alpha := range hs.Alpha {
		holders[addr] = holderBalances{Alpha: alpha, Tao: hs.Tao[addr]}
	}
	for addr, tao := range hs.Tao {
		if _, ok := holders[addr]; !ok {
			holders[addr] = holderBalances{Tao: tao}
		}
	}
	writeJSON(w, allHoldersResponse{
		Success:   true,
		Holders:   holders,
		Count:     len(holders),
		Block:     hs.Block,
		UpdatedAt: hs.BuiltAt.Unix(),
	})
}

type boundAddress struct {
	Voter      string `json:"voter"`
	EVMAddress string `json:"evmAddress"`
}

type allAddressesResponse struct {
	Success   bool           `json:"success"`
	Addresses []boundAddress `json:"addresses"`
	Count     int            `json:"count"`
}

// allAddressesHandler lists bindings restricted to currently registered
// miners; stale bindings of deregistered hotkeys are hidden.
func (srv *Server) allAddressesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roster := srv.backend.CurrentRoster()
	if roster == nil {
		fail(w, errs.New(errs.KindUpstream))
		return
	}
	bindings, err := srv.backend.Store().AllBindings(r.Context())
	if err != nil {
		fail(w, errs.Wrap(errs.KindDatabase, err))
		return
	}
	out := make([]boundAddress, 0, len(bindings))
	for _, b := range bindings {
		if !roster.Contains(b.Voter) {
			continue
		}
		out = append(out, boundAddress{Voter: b.Voter, EVMAddress: b.EVMAddress})
	}
	writeJSON(w, allAddressesResponse{Success: true, Addresses: out, Count: len(out)})
}

type minerEntry struct {
	UID        uint16 `json:"uid"`
	Hotkey     string `json:"hotkey"`
	EVMAddress string `json:"evmAddress,omitempty"`
}

type allMinersResponse struct {
	Success bool         `json:"success"`
	Miners  []minerEntry `json:"miners"`
	Count   int          `json:"count"`
	Block   uint64       `json:"block"`
}

func (srv *Server) allMinersHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roster := srv.backend.CurrentRoster()
	if roster == nil {
		fail(w, errs.New(errs.KindUpstream))
		return
	}
	bindings, err := srv.backend.Store().AllBindings(r.Context())
	if err != nil {
		fail(w, errs.Wrap(errs.KindDatabase, err))
		return
	}
	bound := make(map[string]string, len(bindings))
	for _, b := range bindings {
		bound[b.Voter] = b.EVMAddress
	}
	miners := make([]minerEntry, 0, roster.Len())
	for _, m := range roster.Miners {
		miners = append(miners, minerEntry{UID: m.UID, Hotkey: m.Hotkey, EVMAddress: bound[m.Hotkey]})
	}
	writeJSON(w, allMinersResponse{Success: true, Miners: miners, Count: len(miners), Block: roster.Block})
}
