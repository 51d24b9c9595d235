package main

import (
	"context"
	"os"

	"stackbuild/internal/cli"
	"stackbuild/internal/console"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := cli.NewApp()
	cli.HandleSignals(ctx, cancel, console.NewPrinter(os.Stderr))
	code := cli.Execute(ctx, app, os.Args[1:])
	cancel()
	os.Exit(code)
}
