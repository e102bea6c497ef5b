package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/bobmcallan/quotefeed/internal/app"
)

var configPath = flag.String("config", "", "path to quotefeed.toml (defaults to QUOTEFEED_CONFIG, then the binary directory)")

func openApp() (*app.App, error) {
	return app.NewApp(*configPath)
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands(openApp, os.Stdout) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
