package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/meshplus/wasmcore/internal/repo"
)

func initCMD() cli.Command {
	return cli.Command{
		Name:   "init",
		Usage:  "Initialize WasmCore local configuration",
		Action: initialize,
	}
}

func initialize(ctx *cli.Context) error {
	repoRoot, err := repo.PathRootWithDefault(ctx.GlobalString("repo"))
	if err != nil {
		return err
	}

	if repo.Initialized(repoRoot) {
		fmt.Println("wasmcore configuration file already exists")
		fmt.Println("reinitializing would overwrite your configuration, Y/N?")
		input := ""
		if _, err := fmt.Scanln(&input); err != nil {
			return err
		}
		if input != "Y" && input != "y" {
			return nil
		}
	}

	return repo.Initialize(repoRoot)
}
