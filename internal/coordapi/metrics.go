package coordapi

import "github.com/ethereum/go-ethereum/metrics"

// Meters are package vars so tests can swap in forced instances.
var (
	voteAcceptedMeter  = metrics.NewRegisteredMeter("coordapi/votes/accepted", nil)
	voteRejectedMeter  = metrics.NewRegisteredMeter("coordapi/votes/rejected", nil)
	claimLinkedMeter   = metrics.NewRegisteredMeter("coordapi/claims/linked", nil)
	pingMeter          = metrics.NewRegisteredMeter("coordapi/pings", nil)
	rateLimitedMeter   = metrics.NewRegisteredMeter("coordapi/ratelimited", nil)
	upstreamErrorMeter = metrics.NewRegisteredMeter("coordapi/errors/upstream", nil)
)
