// Command kindredctl はkindred APIのコマンドラインクライアント。
//
//	kindredctl login phone +919876543210
//	kindredctl status
//	kindredctl feed
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hitoshi/kindred/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "kindredctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
