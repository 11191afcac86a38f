package flags

import "github.com/urfave/cli/v2"

const (
	ChainCategory    = "CHAIN"
	SubgraphCategory = "SUBGRAPH"
	APICategory      = "API"
	DatabaseCategory = "DATABASE"
	LoggingCategory  = "LOGGING"
	MetricsCategory  = "METRICS AND STATS"
	MiscCategory     = "MISC"
)

func init() {
	cli.HelpFlag.(*cli.BoolFlag).Category = MiscCategory
	cli.VersionFlag.(*cli.BoolFlag).Category = MiscCategory
}
