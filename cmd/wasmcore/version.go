package main

import (
	"fmt"

	"github.com/urfave/cli"

	wasmcore "github.com/meshplus/wasmcore"
)

func versionCMD() cli.Command {
	return cli.Command{
		Name:   "version",
		Usage:  "WasmCore version",
		Action: version,
	}
}

func version(ctx *cli.Context) error {
	printVersion()

	return nil
}

func printVersion() {
	fmt.Printf("WasmCore version: %s-%s-%s\n", wasmcore.CurrentVersion, wasmcore.CurrentBranch, wasmcore.CurrentCommit)
	fmt.Printf("App build date: %s\n", wasmcore.BuildDate)
	fmt.Printf("System version: %s\n", wasmcore.Platform)
	fmt.Printf("Golang version: %s\n", wasmcore.GoVersion)
}
