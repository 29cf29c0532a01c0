// Command cachectl inspects and maintains the shared price cache.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands(openApp, os.Stdout) {
		commander.Register(c, "cache")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
