package coord

import "github.com/ethereum/go-ethereum/metrics"

var (
	holderRefreshTimer = metrics.NewRegisteredTimer("coord/holders/refresh", nil)
	rosterRefreshTimer = metrics.NewRegisteredTimer("coord/roster/refresh", nil)
)
