package coordapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/taoliq/incentived/chain"
	"github.com/taoliq/incentived/claim"
	"github.com/taoliq/incentived/coord"
	"github.com/taoliq/incentived/crypto/ss58"
	"github.com/taoliq/incentived/errs"
	"github.com/taoliq/incentived/params"
	"github.com/taoliq/incentived/positions"
	"github.com/taoliq/incentived/ratelimit"
	"github.com/taoliq/incentived/store"
	"github.com/taoliq/incentived/subgraph"
	"github.com/taoliq/incentived/vote"
)

var testPool = "0x" + strings.Repeat("ab", 20)

type signer struct {
	secret  *schnorrkel.SecretKey
	address string
	evmKey  *ecdsa.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	mini, err := schnorrkel.GenerateMiniSecretKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	pub := mini.Public().Encode()
	addr, err := ss58.Encode(pub[:], params.SS58Prefix)
	if err != nil {
		t.Fatalf("ss58: %v", err)
	}
	evmKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("evm keygen: %v", err)
	}
	return &signer{secret: mini.ExpandEd25519(), address: addr, evmKey: evmKey}
}

func (s *signer) sign(t *testing.T, msg string) string {
	t.Helper()
	transcript := schnorrkel.NewSigningContext([]byte("substrate"), []byte(msg))
	sig, err := s.secret.Sign(transcript)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	enc := sig.Encode()
	return "0x" + hex.EncodeToString(enc[:])
}

type fakeHead struct {
	block uint64
	err   error
}

func (f *fakeHead) BlockNumber(ctx context.Context) (uint64, error) { return f.block, f.err }

type alphaMap map[string]uint64

func (m alphaMap) Alpha(voter string) (uint64, bool) {
	a, ok := m[voter]
	return a, ok
}

type openPools struct{}

func (openPools) ValidatePool(ctx context.Context, addr string) error { return nil }

func (openPools) PoolMetadata(ctx context.Context, addr string) (store.PoolMeta, error) {
	return store.PoolMeta{Address: addr, Token0: "0x1", Token1: "0x2", Fee: 3000, Liquidity: "1"}, nil
}

type nilQuerier struct{}

func (nilQuerier) Positions(ctx context.Context, owners, pools []string) ([]subgraph.Position, error) {
	return nil, nil
}

// testBackend satisfies Backend with real pipeline objects over fakes
// for the chain surfaces and canned data for the aggregate views.
type testBackend struct {
	version params.Version
	st      *store.Store
	intake  *vote.Intake
	engine  *vote.Engine
	claims  *claim.Service
	fetcher *positions.Fetcher
	limits  *ratelimit.Limiter
	head    *fakeHead
	alpha   alphaMap

	holders *chain.HolderSet
	roster  *chain.Roster

	votes      []coord.DecoratedVote
	pools      []coord.PoolSummary
	views      []coord.PositionView
	weights    map[string]float64
	weightsAt  time.Time
	weightsErr error
}

func (b *testBackend) Version() params.Version          { return b.version }
func (b *testBackend) Store() *store.Store              { return b.st }
func (b *testBackend) Intake() *vote.Intake             { return b.intake }
func (b *testBackend) Engine() *vote.Engine             { return b.engine }
func (b *testBackend) Claims() *claim.Service           { return b.claims }
func (b *testBackend) Fetcher() *positions.Fetcher      { return b.fetcher }
func (b *testBackend) Limits() *ratelimit.Limiter       { return b.limits }
func (b *testBackend) Head() vote.HeadSource            { return b.head }
func (b *testBackend) CurrentHolders() *chain.HolderSet { return b.holders }
func (b *testBackend) CurrentRoster() *chain.Roster     { return b.roster }

func (b *testBackend) AllVotes(ctx context.Context) ([]coord.DecoratedVote, error) {
	return b.votes, nil
}

func (b *testBackend) PoolSummaries(ctx context.Context) ([]coord.PoolSummary, error) {
	return b.pools, nil
}

func (b *testBackend) PositionViews(ctx context.Context) ([]coord.PositionView, error) {
	return b.views, nil
}

func (b *testBackend) Weights(ctx context.Context) (map[string]float64, time.Time, error) {
	return b.weights, b.weightsAt, b.weightsErr
}

func newTestServer(t *testing.T, miners ...string) (*Server, *testBackend) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	entries := make([]chain.Miner, len(miners))
	for i, m := range miners {
		entries[i] = chain.Miner{UID: uint16(i), Hotkey: m}
	}
	b := &testBackend{
		version: params.Version{Major: 1, Minor: 3},
		st:      st,
		limits:  ratelimit.New(params.RateLimitWindow),
		head:    &fakeHead{block: 1000},
		alpha:   alphaMap{},
		roster:  chain.NewRoster(7, 1000, entries),
	}
	b.engine = vote.NewEngine(st)
	b.intake = vote.NewIntake(vote.Config{
		Store: st, Engine: b.engine, Head: b.head,
		Holders: b.alpha, Pools: openPools{}, Limits: b.limits,
	})
	b.claims = claim.New(claim.Config{Store: st, Head: b.head, Roster: b, Limits: b.limits})
	b.fetcher = positions.NewFetcher(nilQuerier{}, st, b)
	return New(b), b
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestUpdateVotesEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	voter := newSigner(t)
	b.alpha[voter.address] = 500

	msg := fmt.Sprintf("%s,100|%d", testPool, 995)
	rec, body := doJSON(t, srv, http.MethodPost, "/updateVotes", map[string]string{
		"address": voter.address, "message": msg, "signature": voter.sign(t, msg),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: have %d, body %s", rec.Code, rec.Body.String())
	}
	if body["success"] != true {
		t.Fatalf("success flag: %v", body)
	}
	pools := body["pools"].([]interface{})
	first := pools[0].(map[string]interface{})
	if first["address"] != testPool || first["weight"] != float64(10000) {
		t.Fatalf("pools payload: %v", pools)
	}
	if body["block"] != float64(995) {
		t.Fatalf("block payload: %v", body["block"])
	}
}

func TestUpdateVotesRejectsBadSignature(t *testing.T) {
	srv, b := newTestServer(t)
	voter := newSigner(t)
	intruder := newSigner(t)
	b.alpha[voter.address] = 500

	msg := fmt.Sprintf("%s,100|%d", testPool, 995)
	rec, body := doJSON(t, srv, http.MethodPost, "/updateVotes", map[string]string{
		"address": voter.address, "message": msg, "signature": intruder.sign(t, msg),
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: have %d", rec.Code)
	}
	if body["success"] != false || body["error"] != "Invalid signature" {
		t.Fatalf("error payload: %v", body)
	}
}

func TestUpdateVotesRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/updateVotes", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status: %d", rec.Code)
	}

	// Bodies over the cap are cut off mid-stream and rejected.
	huge := map[string]string{"address": "5X", "message": strings.Repeat("a", int(params.MaxBodyBytes)+100), "signature": "0x"}
	rec, body := doJSON(t, srv, http.MethodPost, "/updateVotes", huge)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body status: %d", rec.Code)
	}
	if body["error"] != "Invalid input" {
		t.Fatalf("oversized body error: %v", body)
	}
}

func TestUserVotesEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	voter := newSigner(t)
	b.alpha[voter.address] = 500

	msg := fmt.Sprintf("%s,100|%d", testPool, 995)
	rec, _ := doJSON(t, srv, http.MethodPost, "/updateVotes", map[string]string{
		"address": voter.address, "message": msg, "signature": voter.sign(t, msg),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed vote: %d %s", rec.Code, rec.Body.String())
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/userVotes/"+voter.address, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if body["voter"] != voter.address || body["block"] != float64(995) {
		t.Fatalf("payload: %v", body)
	}

	rec, body = doJSON(t, srv, http.MethodGet, "/userVotes/5Unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing voter status: %d", rec.Code)
	}
	if body["error"] != "No vote found" {
		t.Fatalf("missing voter error: %v", body)
	}
}

func TestVoteCooldownEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/voteCooldown/5Fresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if body["active"] != false {
		t.Fatalf("fresh voter active: %v", body)
	}
	if body["nextCooldownSeconds"] != float64(params.CooldownBase/time.Second) {
		t.Fatalf("next cooldown: %v", body["nextCooldownSeconds"])
	}
}

func TestVoteHistoryEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	oldPools, _ := vote.EncodePools([]vote.PoolWeight{{Address: testPool, Weight: 10000}})
	newPools, _ := vote.EncodePools([]vote.PoolWeight{{Address: testPool, Weight: 5000}})
	err := b.st.AppendVoteChange(context.Background(), store.VoteChange{
		Voter: "5Voter", OldPoolsJSON: oldPools, NewPoolsJSON: newPools,
		ChangeTimestamp: 1000, CooldownUntil: 2000, ChangeCount: 1,
	})
	if err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/voteHistory/5Voter", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	history := body["history"].([]interface{})
	if len(history) != 1 {
		t.Fatalf("history rows: %v", body)
	}
	entry := history[0].(map[string]interface{})
	if entry["changeCount"] != float64(1) || entry["cooldownUntil"] != float64(2000) {
		t.Fatalf("history entry: %v", entry)
	}
}

func TestPingEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	v := newSigner(t)

	ping := func(message string) (*httptest.ResponseRecorder, map[string]interface{}) {
		return doJSON(t, srv, http.MethodPost, "/ping", map[string]string{
			"address": v.address, "message": message, "signature": v.sign(t, message),
		})
	}

	rec, body := ping("995|1.3.0")
	if rec.Code != http.StatusOK || body["message"] != "ok" {
		t.Fatalf("matching version: %d %v", rec.Code, body)
	}
	if body["serverVersion"] != "1.3.0" {
		t.Fatalf("server version: %v", body)
	}

	rec, body = ping("995|1.3.7")
	if rec.Code != http.StatusOK || body["message"] != "client is on a non-master branch" {
		t.Fatalf("ahead patch: %d %v", rec.Code, body)
	}

	rec, body = ping("995|1.2.0")
	if rec.Code != http.StatusBadRequest || body["error"] != "Incompatible validator version" {
		t.Fatalf("minor mismatch: %d %v", rec.Code, body)
	}

	rec, body = ping("989|1.3.0")
	if rec.Code != http.StatusBadRequest || body["error"] != "Block number is stale" {
		t.Fatalf("stale block: %d %v", rec.Code, body)
	}
}

func TestPingRejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	v := newSigner(t)
	intruder := newSigner(t)

	rec, _ := doJSON(t, srv, http.MethodPost, "/ping", map[string]string{
		"address": v.address, "message": "995|1.3.0", "signature": intruder.sign(t, "995|1.3.0"),
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestClaimAddressEndpoint(t *testing.T) {
	c := newSigner(t)
	srv, _ := newTestServer(t, c.address)

	evmAddr := crypto.PubkeyToAddress(c.evmKey.PublicKey)
	inner := fmt.Sprintf("%s|%s|%d", evmAddr.Hex(), c.address, 995)
	sig, err := crypto.Sign(accounts.TextHash([]byte(inner)), c.evmKey)
	if err != nil {
		t.Fatal(err)
	}
	msg := fmt.Sprintf("%s|%s|%s|%d|%s", hexutil.Encode(sig), evmAddr.Hex(), c.address, 995, evmAddr.Hex())

	rec, body := doJSON(t, srv, http.MethodPost, "/claimAddress", map[string]string{
		"address": c.address, "message": msg, "signature": c.sign(t, msg),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	if body["message"] != "address linked" || body["evmAddress"] != strings.ToLower(evmAddr.Hex()) {
		t.Fatalf("payload: %v", body)
	}

	rec, body = doJSON(t, srv, http.MethodPost, "/claimAddress", map[string]string{
		"address": c.address, "message": msg, "signature": c.sign(t, msg),
	})
	if rec.Code != http.StatusOK || body["message"] != "already linked" {
		t.Fatalf("idempotent claim: %d %v", rec.Code, body)
	}
}

func TestAllHoldersEndpoint(t *testing.T) {
	srv, b := newTestServer(t)

	rec, body := doJSON(t, srv, http.MethodGet, "/allHolders", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("no snapshot status: %d", rec.Code)
	}
	if body["error"] != "Upstream service unavailable" {
		t.Fatalf("no snapshot error: %v", body)
	}

	b.holders = &chain.HolderSet{
		Netuid: 7, Block: 1000, BuiltAt: time.Unix(1_700_000_000, 0),
		Alpha: map[string]uint64{"5A": 100},
		Tao:   map[string]uint64{"5A": 7, "5TaoOnly": 3},
	}
	rec, body = doJSON(t, srv, http.MethodGet, "/allHolders", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	holders := body["holders"].(map[string]interface{})
	a := holders["5A"].(map[string]interface{})
	if a["alpha"] != float64(100) || a["tao"] != float64(7) {
		t.Fatalf("holder 5A: %v", a)
	}
	if _, ok := holders["5TaoOnly"]; !ok {
		t.Fatalf("tao-only holder missing: %v", holders)
	}
	if body["count"] != float64(2) || body["updatedAt"] != float64(1_700_000_000) {
		t.Fatalf("envelope: %v", body)
	}
}

func TestAllMinersAndAddressesEndpoints(t *testing.T) {
	srv, b := newTestServer(t, "5MinerA", "5MinerB")
	if _, err := b.st.UpsertBinding(context.Background(), "5MinerA", "0x"+strings.Repeat("aa", 20)); err != nil {
		t.Fatalf("bind: %v", err)
	}
	// A stale binding of a deregistered hotkey stays hidden.
	if _, err := b.st.UpsertBinding(context.Background(), "5Gone", "0x"+strings.Repeat("bb", 20)); err != nil {
		t.Fatalf("bind: %v", err)
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/allMiners", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("allMiners status: %d", rec.Code)
	}
	miners := body["miners"].([]interface{})
	if len(miners) != 2 {
		t.Fatalf("miners: %v", miners)
	}
	first := miners[0].(map[string]interface{})
	if first["hotkey"] != "5MinerA" || first["evmAddress"] != "0x"+strings.Repeat("aa", 20) {
		t.Fatalf("miner entry: %v", first)
	}
	second := miners[1].(map[string]interface{})
	if _, ok := second["evmAddress"]; ok {
		t.Fatalf("unbound miner should omit evmAddress: %v", second)
	}

	rec, body = doJSON(t, srv, http.MethodGet, "/allAddresses", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("allAddresses status: %d", rec.Code)
	}
	addrs := body["addresses"].([]interface{})
	if len(addrs) != 1 {
		t.Fatalf("addresses should exclude deregistered voters: %v", addrs)
	}
}

func TestAllVotesEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	b.votes = []coord.DecoratedVote{
		{Voter: "5A", Pools: []vote.PoolWeight{{Address: testPool, Weight: 10000}}, Block: 995, Alpha: 300, Multiplier: 0.3},
		{Voter: "5B", Pools: []vote.PoolWeight{{Address: testPool, Weight: 10000}}, Block: 996, Alpha: 700, Multiplier: 0.7},
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/allVotes", nil)
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("envelope: %d %v", rec.Code, body)
	}
	votes := body["votes"].([]interface{})
	first := votes[0].(map[string]interface{})
	if first["voter"] != "5A" || first["multiplier"] != 0.3 {
		t.Fatalf("vote entry: %v", first)
	}
}

func TestWeightsEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	b.weights = map[string]float64{"5Miner": 1}
	b.weightsAt = time.Unix(1_700_000_123, 0)

	rec, body := doJSON(t, srv, http.MethodGet, "/weights", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	weights := body["weights"].(map[string]interface{})
	if weights["5Miner"] != float64(1) {
		t.Fatalf("weights: %v", weights)
	}
	if body["updatedAt"] != float64(1_700_000_123) {
		t.Fatalf("updatedAt: %v", body)
	}
}

func TestPositionsEndpointFilters(t *testing.T) {
	srv, b := newTestServer(t)
	b.views = []coord.PositionView{
		{Position: positions.Position{ID: "p1", Miner: "5A", Pool: testPool}},
		{Position: positions.Position{ID: "p2", Miner: "5B", Pool: testPool}},
		{Position: positions.Position{ID: "p3", Miner: "5A", Pool: "0x" + strings.Repeat("cd", 20)}},
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/positions", nil)
	if rec.Code != http.StatusOK || body["count"] != float64(3) {
		t.Fatalf("unfiltered: %d %v", rec.Code, body)
	}

	_, body = doJSON(t, srv, http.MethodGet, "/positions?hotkey=5A&pool="+testPool, nil)
	if body["count"] != float64(1) {
		t.Fatalf("query filters: %v", body)
	}

	_, body = doJSON(t, srv, http.MethodGet, "/positions/5A", nil)
	if body["count"] != float64(2) {
		t.Fatalf("miner path filter: %v", body)
	}
}

func TestPoolsEndpoint(t *testing.T) {
	srv, b := newTestServer(t)
	b.pools = []coord.PoolSummary{{Address: testPool, Share: 0.55, Fee: 3000}}

	rec, body := doJSON(t, srv, http.MethodGet, "/pools", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	pools := body["pools"].([]interface{})
	entry := pools[0].(map[string]interface{})
	if entry["address"] != testPool || entry["share"] != 0.55 {
		t.Fatalf("pool entry: %v", entry)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doJSON(t, srv, http.MethodGet, "/version", nil)
	if rec.Code != http.StatusOK || body["version"] != "1.3.0" {
		t.Fatalf("version: %d %v", rec.Code, body)
	}
}

func TestUnrecognizedCall(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doJSON(t, srv, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
	if body["error"] != "Unrecognized call" {
		t.Fatalf("body: %v", body)
	}
}

func TestStatusForKinds(t *testing.T) {
	want := map[errs.Kind]int{
		errs.KindInvalidInput:        http.StatusBadRequest,
		errs.KindInvalidPool:         http.StatusBadRequest,
		errs.KindInvalidBlock:        http.StatusBadRequest,
		errs.KindStaleBlock:          http.StatusBadRequest,
		errs.KindVersionIncompatible: http.StatusBadRequest,
		errs.KindAuth:                http.StatusUnauthorized,
		errs.KindNotAHolder:          http.StatusForbidden,
		errs.KindNotRegisteredMiner:  http.StatusForbidden,
		errs.KindRateLimited:         http.StatusTooManyRequests,
		errs.KindCooldownActive:      http.StatusTooManyRequests,
		errs.KindUpstream:            http.StatusBadGateway,
		errs.KindDatabase:            http.StatusInternalServerError,
		errs.KindInternal:            http.StatusInternalServerError,
		errs.KindUnknown:             http.StatusInternalServerError,
	}
	for kind, status := range want {
		require.Equal(t, status, statusFor(kind), "kind %d", kind)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if have := rec.Header().Get("Access-Control-Allow-Origin"); have != "*" {
		t.Fatalf("CORS header: %q", have)
	}
}
