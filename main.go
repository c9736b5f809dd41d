package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/file"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/memory"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-reconcile/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-reconcile/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, Version, os.Args[1:])
	stop()
	os.Exit(code)
}
