package main

import (
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "arcq",
		Usage:   "query tool for geospatial REST portals",
		Version: versioninfo.Short(),
	}
	app.Commands = []*cli.Command{
		cmdLogin,
		cmdLogout,
		cmdStatus,
		cmdGet,
		cmdJob,
	}
	return app.Run(args)
}
