package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/meshplus/wasmcore/internal/executor"
	"github.com/meshplus/wasmcore/internal/loggers"
	"github.com/meshplus/wasmcore/internal/repo"
	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/backend"
	"github.com/meshplus/wasmcore/pkg/vm/cache"
)

func runCMD() cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "Execute one method of a wasm contract",
		ArgsUsage: "<contract.wasm>",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "method",
				Usage: "exported method to invoke",
				Value: "main",
			},
			cli.StringFlag{
				Name:  "input",
				Usage: "call input passed to the contract",
			},
			cli.Uint64Flag{
				Name:  "gas",
				Usage: "gas limit for the call",
				Value: 10_000_000,
			},
			cli.StringFlag{
				Name:  "state",
				Usage: "JSON file with the pre-state (storage and balances)",
			},
		},
		Action: run,
	}
}

// cliState is the JSON shape of the --state file.
type cliState struct {
	Storage  map[string]string `json:"storage"`
	Balances map[string]uint64 `json:"balances"`
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("please specify exactly one contract file")
	}
	code, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("read contract: %w", err)
	}

	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	loggers.Initialize(config)

	b, err := backend.New(config.Backend.Type, loggers.Logger(loggers.Backend))
	if err != nil {
		return err
	}
	c, err := cache.New(b, config.Cache.Size, config.Cache.CompileTimeout, loggers.Logger(loggers.Cache))
	if err != nil {
		return err
	}
	defer c.Close()

	view := vm.NewMapView()
	if path := ctx.String("state"); path != "" {
		if err := loadState(path, view); err != nil {
			return err
		}
	}

	exec := executor.New(b, c, &config.Schedule, loggers.Logger(loggers.Executor))
	ectx := vm.NewContext(ctx.String("method"), []byte(ctx.String("input")), ctx.Uint64("gas"), loggers.Logger(loggers.Host))

	outcome := exec.Execute(context.Background(), code, ectx, view)

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if outcome.Err != nil && outcome.Err.IsHostFault() {
		return fmt.Errorf("host fault: %s", outcome.Err)
	}
	return nil
}

func loadConfig(ctx *cli.Context) (*repo.Config, error) {
	repoRoot, err := repo.PathRootWithDefault(ctx.GlobalString("repo"))
	if err != nil {
		return nil, err
	}
	if repo.Initialized(repoRoot) {
		r, err := repo.Load(repoRoot, "")
		if err != nil {
			return nil, err
		}
		return r.Config, nil
	}
	return repo.DefaultConfig()
}

func loadState(path string, view *vm.MapView) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	var st cliState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse state: %w", err)
	}
	for k, v := range st.Storage {
		view.Storage[k] = []byte(v)
	}
	for acc, bal := range st.Balances {
		view.Balances[acc] = bal
	}
	return nil
}
