// Command kindred はAPIサーバー、ワーカー、マイグレーションを起動する。
//
//	kindred [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/kindred/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "kindred: %v\n", err)
		os.Exit(1)
	}
}
