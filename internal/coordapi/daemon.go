package coordapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/taoliq/incentived/crypto/sigverify"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
)

type pingRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type pingResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ServerVersion string `json:"serverVersion"`
}

// pingHandler authenticates a validator liveness ping and checks its
// version against the server's. The signed message is "<block>|<version>".
func (srv *Server) pingHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req pingRequest
	if err := readJSON(w, r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Address == "" || len(req.Address) > params.MaxAddressLen ||
		req.Signature == "" || len(req.Signature) > params.MaxSignatureLen ||
		req.Message == "" || len(req.Message) > params.MaxMessageLen {
		fail(w, errs.New(errs.KindInvalidInput))
		return
	}

	limits := srv.backend.Limits()
	if ip := clientIP(r); ip != "" && !limits.Allow("ip_"+ip, params.IPRateLimit) {
		fail(w, errs.New(errs.KindRateLimited))
		return
	}
	if !limits.Allow("ping_"+req.Address, params.KeyRateLimit) {
		fail(w, errs.New(errs.KindRateLimited))
		return
	}

	if err := sigverify.VerifySubstrate(req.Message, req.Signature, req.Address); err != nil {
		fail(w, errs.Wrap(errs.KindAuth, err))
		return
	}

	parts := strings.Split(req.Message, "|")
	if len(parts) != 2 {
		fail(w, errs.New(errs.KindInvalidInput))
		return
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		fail(w, errs.New(errs.KindInvalidBlock))
		return
	}
	head, err := srv.backend.Head().BlockNumber(r.Context())
	if err != nil {
		fail(w, errs.Wrap(errs.KindUpstream, err))
		return
	}
	if block > head {
		fail(w, errs.Newf(errs.KindInvalidBlock, "Block number is in the future"))
		return
	}
	if block+params.BlockWindow < head {
		fail(w, errs.New(errs.KindStaleBlock))
		return
	}

	client, err := params.ParseVersion(parts[1])
	if err != nil {
		fail(w, errs.Wrap(errs.KindVersionIncompatible, err))
		return
	}
	server := srv.backend.Version()
	ahead, err := server.CheckClient(client)
	if err != nil {
		fail(w, errs.Wrap(errs.KindVersionIncompatible, err))
		return
	}

	msg := "ok"
	if ahead {
		msg = "client is on a non-master branch"
	}
	pingMeter.Mark(1)
	writeJSON(w, pingResponse{Success: true, Message: msg, ServerVersion: server.String()})
}

type versionResponse struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
}

func (srv *Server) versionHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, versionResponse{Success: true, Version: srv.backend.Version().String()})
}
