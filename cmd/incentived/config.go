package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/taoliq/incentived/coord"
)

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "Export the effective configuration in TOML format",
	Action: dumpConfig,
	Flags:  daemonFlags,
}

// tomlSettings decodes config files strictly: keys map to struct fields
// verbatim and unknown keys fail the load instead of being dropped.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// makeConfig resolves the coordinator configuration. Precedence is flag
// defaults, then the TOML file, then explicitly set flags and env vars.
func makeConfig(ctx *cli.Context) (coord.Config, error) {
	cfg := flagConfig(ctx)
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadTOML(file, &cfg); err != nil {
			return coord.Config{}, err
		}
		overrideFromFlags(ctx, &cfg)
	}
	return cfg, nil
}

// loadConfig is makeConfig plus the checks a running daemon needs.
func loadConfig(ctx *cli.Context) (coord.Config, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return coord.Config{}, err
	}
	if cfg.EVMURL == "" {
		return coord.Config{}, errors.New("an EVM RPC endpoint is required (--evm.url or EVM_RPC_URL)")
	}
	if cfg.SubgraphURL == "" {
		return coord.Config{}, errors.New("a subgraph endpoint is required (--subgraph.url or SUBGRAPH_URL)")
	}
	return cfg, nil
}

func flagConfig(ctx *cli.Context) coord.Config {
	return coord.Config{
		Netuid:         uint16(ctx.Uint(netuidFlag.Name)),
		SubstrateURL:   ctx.String(substrateURLFlag.Name),
		EVMURL:         ctx.String(evmURLFlag.Name),
		Factory:        ctx.String(factoryFlag.Name),
		SubgraphURL:    ctx.String(subgraphURLFlag.Name),
		SubgraphAPIKey: ctx.String(subgraphKeyFlag.Name),
		OracleURL:      ctx.String(oracleURLFlag.Name),
		DBPath:         ctx.String(dbPathFlag.Name),
		VersionFile:    ctx.String(versionFileFlag.Name),
		LogCSV:         ctx.Bool(csvLogFlag.Name),
		CSVDir:         ctx.String(csvDirFlag.Name),
	}
}

// overrideFromFlags reasserts values the user passed explicitly so the
// command line and environment win over the config file.
func overrideFromFlags(ctx *cli.Context, cfg *coord.Config) {
	if ctx.IsSet(netuidFlag.Name) {
		cfg.Netuid = uint16(ctx.Uint(netuidFlag.Name))
	}
	if ctx.IsSet(substrateURLFlag.Name) {
		cfg.SubstrateURL = ctx.String(substrateURLFlag.Name)
	}
	if ctx.IsSet(evmURLFlag.Name) {
		cfg.EVMURL = ctx.String(evmURLFlag.Name)
	}
	if ctx.IsSet(factoryFlag.Name) {
		cfg.Factory = ctx.String(factoryFlag.Name)
	}
	if ctx.IsSet(subgraphURLFlag.Name) {
		cfg.SubgraphURL = ctx.String(subgraphURLFlag.Name)
	}
	if ctx.IsSet(subgraphKeyFlag.Name) {
		cfg.SubgraphAPIKey = ctx.String(subgraphKeyFlag.Name)
	}
	if ctx.IsSet(oracleURLFlag.Name) {
		cfg.OracleURL = ctx.String(oracleURLFlag.Name)
	}
	if ctx.IsSet(dbPathFlag.Name) {
		cfg.DBPath = ctx.String(dbPathFlag.Name)
	}
	if ctx.IsSet(versionFileFlag.Name) {
		cfg.VersionFile = ctx.String(versionFileFlag.Name)
	}
	if ctx.IsSet(csvLogFlag.Name) {
		cfg.LogCSV = ctx.Bool(csvLogFlag.Name)
	}
	if ctx.IsSet(csvDirFlag.Name) {
		cfg.CSVDir = ctx.String(csvDirFlag.Name)
	}
}

func loadTOML(file string, cfg *coord.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Attach the file name to errors that carry a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
