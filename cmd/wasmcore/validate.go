package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/meshplus/wasmcore/pkg/vm/instrument"
)

func validateCMD() cli.Command {
	return cli.Command{
		Name:      "validate",
		Usage:     "Check a wasm contract against the deterministic contract policy",
		ArgsUsage: "<contract.wasm>",
		Action:    validate,
	}
}

func validate(ctx *cli.Context) error {
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

	if verr := instrument.Validate(code, &config.Schedule); verr != nil {
		return fmt.Errorf("invalid contract: %s", verr)
	}
	fmt.Println("contract is valid")
	return nil
}
