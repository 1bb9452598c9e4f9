package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/kindred/internal/config"
)

// 起動モード
const (
	ModeServe       = "serve"
	ModeWorker      = "worker"
	ModeMigrate     = "migrate"
	ModeHealthcheck = "healthcheck"
)

// NewCommand はkindredサーバーのルートコマンドを返す。
// サブコマンドを省略した場合はAPIサーバーとして起動する。
func NewCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "kindred",
		Short:         "kindred API server, worker and migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(w, ModeServe, runServe)
		},
	}
	root.SetOut(w)

	root.AddCommand(&cobra.Command{
		Use:   ModeServe,
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(w, ModeServe, runServe)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   ModeWorker,
		Short: "Start the cleanup and notification workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(w, ModeWorker, runWorker)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   ModeMigrate,
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(w, ModeMigrate, runMigrate)
		},
	})

	// healthcheckはdistrolessイメージのHEALTHCHECK用。設定を読み込まない。
	var port string
	health := &cobra.Command{
		Use:   ModeHealthcheck,
		Short: "Probe /health on the local server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	health.Flags().StringVar(&port, "port", healthcheckPort(), "Port of the local server")
	root.AddCommand(health)

	return root
}

func healthcheckPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// withConfig は設定とログを初期化してからrunを呼ぶ。
func withConfig(w io.Writer, mode string, run func(*config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", mode),
		slog.String("port", cfg.ServerPort),
		slog.String("service", cfg.ServiceName),
	)
	return run(cfg)
}
