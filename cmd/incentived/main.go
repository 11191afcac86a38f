// incentived is the subnet incentive coordinator. It serves the vote,
// claim and read APIs over HTTP and keeps the chain snapshots fresh in
// the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/taoliq/incentived/coord"
	"github.com/taoliq/incentived/internal/coordapi"
	"github.com/taoliq/incentived/internal/flags"
	"github.com/taoliq/incentived/params"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	netuidFlag = &cli.UintFlag{
		Name:     "netuid",
		Usage:    "Subnet to coordinate",
		Value:    uint(params.DefaultNetuid),
		EnvVars:  []string{"NETUID"},
		Category: flags.ChainCategory,
	}
	substrateURLFlag = &cli.StringFlag{
		Name:     "substrate.url",
		Usage:    "Substrate RPC endpoint (ws or wss)",
		Value:    "wss://entrypoint-finney.opentensor.ai:443",
		EnvVars:  []string{"SUBSTRATE_RPC_URL"},
		Category: flags.ChainCategory,
	}
	evmURLFlag = &cli.StringFlag{
		Name:     "evm.url",
		Usage:    "EVM JSON-RPC endpoint for pool validation",
		EnvVars:  []string{"EVM_RPC_URL"},
		Category: flags.ChainCategory,
	}
	factoryFlag = &cli.StringFlag{
		Name:     "evm.factory",
		Usage:    "Uniswap V3 factory contract address",
		Value:    "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		EnvVars:  []string{"UNISWAP_FACTORY"},
		Category: flags.ChainCategory,
	}
	subgraphURLFlag = &cli.StringFlag{
		Name:     "subgraph.url",
		Usage:    "Uniswap V3 subgraph endpoint",
		EnvVars:  []string{"SUBGRAPH_URL"},
		Category: flags.SubgraphCategory,
	}
	subgraphKeyFlag = &cli.StringFlag{
		Name:     "subgraph.apikey",
		Usage:    "Bearer key for gateway-hosted subgraphs",
		EnvVars:  []string{"SUBGRAPH_API_KEY"},
		Category: flags.SubgraphCategory,
	}
	oracleURLFlag = &cli.StringFlag{
		Name:     "oracle.url",
		Usage:    "Token price oracle endpoint (empty disables USD values)",
		EnvVars:  []string{"PRICE_ORACLE_URL"},
		Category: flags.SubgraphCategory,
	}
	dbPathFlag = &cli.StringFlag{
		Name:     "db",
		Usage:    "Path of the SQLite database",
		Value:    params.DefaultDBPath,
		EnvVars:  []string{"DB_PATH"},
		Category: flags.DatabaseCategory,
	}
	httpAddrFlag = &cli.StringFlag{
		Name:     "http.addr",
		Usage:    "HTTP server listen interface",
		Value:    "0.0.0.0",
		EnvVars:  []string{"HTTP_ADDR"},
		Category: flags.APICategory,
	}
	httpPortFlag = &cli.IntFlag{
		Name:     "http.port",
		Usage:    "HTTP server listen port",
		Value:    params.DefaultPort,
		EnvVars:  []string{"PORT"},
		Category: flags.APICategory,
	}
	csvLogFlag = &cli.BoolFlag{
		Name:     "csv.log",
		Usage:    "Write a holder snapshot CSV on every refresh",
		EnvVars:  []string{"LOG_CSV"},
		Category: flags.LoggingCategory,
	}
	csvDirFlag = &cli.StringFlag{
		Name:     "csv.dir",
		Usage:    "Directory for holder snapshot CSVs",
		Value:    params.DefaultCSVDir,
		EnvVars:  []string{"CSV_DIR"},
		Category: flags.LoggingCategory,
	}
	versionFileFlag = &cli.StringFlag{
		Name:     "versionfile",
		Usage:    "Path of the VERSION file",
		Value:    params.DefaultVersionFile,
		EnvVars:  []string{"VERSION_FILE"},
		Category: flags.MiscCategory,
	}
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    3,
		EnvVars:  []string{"VERBOSITY"},
		Category: flags.LoggingCategory,
	}
	// The metrics library scans os.Args for this flag itself, before
	// flag parsing runs; it is declared here for help and validation.
	metricsFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: flags.MetricsCategory,
	}
)

var daemonFlags = []cli.Flag{
	configFileFlag,
	netuidFlag,
	substrateURLFlag,
	evmURLFlag,
	factoryFlag,
	subgraphURLFlag,
	subgraphKeyFlag,
	oracleURLFlag,
	dbPathFlag,
	httpAddrFlag,
	httpPortFlag,
	csvLogFlag,
	csvDirFlag,
	versionFileFlag,
	verbosityFlag,
	metricsFlag,
}

var app = &cli.App{
	Name:     "incentived",
	Usage:    "liquidity subnet incentive coordinator",
	Action:   run,
	Flags:    daemonFlags,
	Commands: []*cli.Command{dumpConfigCommand},
}

func main() {
	// Deployments keep endpoints and keys in a .env beside the binary.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "dotenv:", err)
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	backend, err := coord.New(cfg)
	if err != nil {
		return err
	}
	if err := backend.Start(context.Background()); err != nil {
		backend.Stop()
		return err
	}

	addr := net.JoinHostPort(ctx.String(httpAddrFlag.Name), strconv.Itoa(ctx.Int(httpPortFlag.Name)))
	srv := &http.Server{
		Addr:              addr,
		Handler:           coordapi.New(backend),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	log.Info("HTTP server started", "addr", addr, "version", backend.Version())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("Got interrupt, shutting down", "signal", s)
	case err := <-serveErr:
		log.Error("HTTP server failed", "err", err)
		backend.Stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "err", err)
	}
	backend.Stop()
	return nil
}

func setupLogging(ctx *cli.Context) {
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) &&
		os.Getenv("TERM") != "dumb"
	handler := log.NewTerminalHandlerWithLevel(os.Stderr,
		log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), usecolor)
	log.SetDefault(log.NewLogger(handler))
}
