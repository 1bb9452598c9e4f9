// Package cli はkindredctlのコマンドを提供する。
// 各コマンドはRuntime（APIクライアント・セッション・ユーザー状態）を共有する。
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/kindred/internal/client/clientconfig"
	"github.com/hitoshi/kindred/internal/logger"
)

// DefaultReadyTimeout はIDプロバイダーの最初の通知を待つ上限。
const DefaultReadyTimeout = 20 * time.Second

// errNotSignedIn はサインインが必要なコマンドを未サインインで実行した場合のエラー。
var errNotSignedIn = errors.New("not signed in; run `kindredctl login phone` or `kindredctl login google`")

type app struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer

	configPath   string
	verbose      bool
	jsonOutput   bool
	readyTimeout time.Duration

	rt *Runtime
}

// Option はNewRootCommandの挙動を変更する。
type Option func(*app)

// WithRuntime は設定の読み込みと組み立てを行わず、rtを使う。
func WithRuntime(rt *Runtime) Option {
	return func(a *app) { a.rt = rt }
}

// NewRootCommand はkindredctlのルートコマンドを生成する。
func NewRootCommand(in io.Reader, out, errOut io.Writer, opts ...Option) *cobra.Command {
	a := &app{
		in:           bufio.NewReader(in),
		out:          out,
		errOut:       errOut,
		readyTimeout: DefaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}

	cmd := &cobra.Command{
		Use:           "kindredctl",
		Short:         "Command-line client for the kindred dating API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.rt != nil {
				a.rt.Close()
			}
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config.yaml (default: user config dir)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")

	cmd.AddCommand(a.newLoginCommand())
	cmd.AddCommand(a.newLogoutCommand())
	cmd.AddCommand(a.newStatusCommand())
	cmd.AddCommand(a.newOnboardCommand())
	cmd.AddCommand(a.newProfileCommand())
	cmd.AddCommand(a.newPromptsCommand())
	cmd.AddCommand(a.newPrefsCommand())
	cmd.AddCommand(a.newFeedCommand())
	cmd.AddCommand(a.newLikeCommand())
	cmd.AddCommand(a.newPassCommand())
	cmd.AddCommand(a.newLikesCommand())
	cmd.AddCommand(a.newMatchesCommand())
	cmd.AddCommand(a.newMessagesCommand())
	cmd.AddCommand(a.newSendCommand())
	return cmd
}

// Execute はargsでkindredctlを実行する。
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	cmd := NewRootCommand(in, out, errOut)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// setup はロガーとRuntimeを用意し、セッションの初期化を待つ。
func (a *app) setup(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.SetupText(a.errOut, a.verbose)

	if a.rt == nil {
		cfg, err := clientconfig.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		rt, err := BuildRuntime(ctx, cfg, log)
		if err != nil {
			return err
		}
		a.rt = rt
	}

	a.rt.Session.Start()

	readyCtx, cancel := context.WithTimeout(ctx, a.readyTimeout)
	defer cancel()
	snap, err := a.rt.Session.WaitReady(readyCtx)
	if err != nil {
		return err
	}
	if snap.User != nil {
		a.rt.User.SetIdentity(snap.User.Email, snap.User.PhoneNumber)
	}
	return nil
}

// requireAuth は認証済みでなければエラーを返す。
func (a *app) requireAuth() error {
	if !a.rt.Session.Snapshot().Authenticated() {
		return errNotSignedIn
	}
	return nil
}

// prompt はlabelを表示して1行読み取る。defaultValueがある場合は空入力でそれを返す。
func (a *app) prompt(label, defaultValue string) (string, error) {
	if defaultValue != "" {
		fmt.Fprintf(a.out, "%s [%s]: ", label, defaultValue)
	} else {
		fmt.Fprintf(a.out, "%s: ", label)
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue, nil
	}
	return line, nil
}
