package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cardpos/stockledger/cmd/ledgerctl/cli"
	"github.com/cardpos/stockledger/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	root := cli.NewRootCommand(cli.Env{PGDSN: cfg.PGDSN, RedisAddr: cfg.RedisAddr})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
