package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "WasmCore"
	app.Usage = "A deterministic wasm smart-contract execution core"
	app.Compiled = time.Now()

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	// global flags
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "repo",
			Usage: "WasmCore configuration repo path",
		},
	}

	app.Commands = []cli.Command{
		initCMD(),
		runCMD(),
		validateCMD(),
		versionCMD(),
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
	}
}
