// Package claim binds external EVM accounts to subnet hotkeys through a
// dual-signature proof of control. The claimer signs the full request
// with their substrate key and embeds an EVM signature proving they also
// hold the address being linked.
package claim

import (
	"context"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/taoliq/incentived/chain"
	"github.com/taoliq/incentived/crypto/sigverify"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/ratelimit"
	"github.com/taoliq/incentived/store"
	"github.com/taoliq/incentived/vote"
)

// RosterSource yields the current subnet roster, or nil when none has
// been built yet.
type RosterSource interface {
	CurrentRoster() *chain.Roster
}

// Config wires a claim service.
type Config struct {
	Store  *store.Store
	Head   vote.HeadSource
	Roster RosterSource
	Limits *ratelimit.Limiter
}

// Service validates and persists address claims.
type Service struct {
	store  *store.Store
	head   vote.HeadSource
	roster RosterSource
	limits *ratelimit.Limiter
}

// New builds the claim service.
func New(cfg Config) *Service {
	return &Service{store: cfg.Store, head: cfg.Head, roster: cfg.Roster, limits: cfg.Limits}
}

// Request is one signed claim submission.
type Request struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	ClientIP  string `json:"-"`
}

// Result reports the stored binding.
type Result struct {
	Voter         string `json:"voter"`
	EVMAddress    string `json:"evmAddress"`
	AlreadyLinked bool   `json:"-"`
}

// Submit runs the full claim pipeline: rate limits, the outer substrate
// signature, message-field consistency, the block window, subnet
// membership and the inner EVM signature, then upserts the binding.
// Re-submitting an identical claim succeeds without touching the store.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.Address == "" || req.Message == "" || req.Signature == "" {
		return nil, errs.New(errs.KindInvalidInput)
	}
	if len(req.Address) > params.MaxAddressLen ||
		len(req.Signature) > params.MaxSignatureLen ||
		len(req.Message) > params.MaxMessageLen {
		return nil, errs.New(errs.KindInvalidInput)
	}

	if req.ClientIP != "" && !s.limits.Allow("ip_"+req.ClientIP, params.IPRateLimit) {
		return nil, errs.New(errs.KindRateLimited)
	}
	if !s.limits.Allow("claim_"+req.Address, params.KeyRateLimit) {
		return nil, errs.New(errs.KindRateLimited)
	}

	if err := sigverify.VerifySubstrate(req.Message, req.Signature, req.Address); err != nil {
		log.Debug("Claim signature rejected", "voter", req.Address, "err", err)
		return nil, errs.Wrap(errs.KindAuth, err)
	}

	parts := strings.Split(req.Message, "|")
	if len(parts) != 5 {
		return nil, errs.New(errs.KindInvalidInput)
	}
	ethSig, ethAddr, voter, blockField, ethSigner := parts[0], parts[1], parts[2], parts[3], parts[4]

	if !strings.EqualFold(ethAddr, ethSigner) {
		log.Debug("Claim signer mismatch", "addr", ethAddr, "signer", ethSigner)
		return nil, errs.New(errs.KindInvalidInput)
	}
	if voter != req.Address {
		log.Debug("Claim voter mismatch", "message", voter, "request", req.Address)
		return nil, errs.New(errs.KindInvalidInput)
	}
	if !common.IsHexAddress(ethSigner) {
		return nil, errs.New(errs.KindInvalidInput)
	}

	block, err := strconv.ParseUint(blockField, 10, 64)
	if err != nil {
		return nil, errs.New(errs.KindInvalidBlock)
	}
	head, err := s.head.BlockNumber(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, err)
	}
	if block > head {
		return nil, errs.Newf(errs.KindInvalidBlock, "Block number is in the future")
	}
	if block+params.BlockWindow < head {
		return nil, errs.New(errs.KindStaleBlock)
	}

	roster := s.roster.CurrentRoster()
	if roster == nil {
		return nil, errs.New(errs.KindUpstream)
	}
	if !roster.Contains(voter) {
		return nil, errs.New(errs.KindNotRegisteredMiner)
	}

	inner := ethAddr + "|" + voter + "|" + blockField
	if err := sigverify.VerifyEVM(inner, ethSig, ethSigner); err != nil {
		log.Debug("Claim EVM signature rejected", "voter", voter, "signer", ethSigner, "err", err)
		return nil, errs.Wrap(errs.KindAuth, err)
	}

	changed, err := s.store.UpsertBinding(ctx, voter, ethAddr)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase, err)
	}
	if changed {
		log.Info("Address claimed", "voter", voter, "address", strings.ToLower(ethAddr), "block", block)
	}
	return &Result{
		Voter:         voter,
		EVMAddress:    strings.ToLower(ethAddr),
		AlreadyLinked: !changed,
	}, nil
}
