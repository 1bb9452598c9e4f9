package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/kindred/internal/client/api"
	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/onboarding"
	"github.com/hitoshi/kindred/internal/client/session"
	"github.com/hitoshi/kindred/internal/client/validate"
)

func (a *app) newLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a phone number or a Google account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.newLoginPhoneCommand())
	cmd.AddCommand(a.newLoginGoogleCommand())
	return cmd
}

func (a *app) newLoginPhoneCommand() *cobra.Command {
	var (
		code        string
		skipOnboard bool
	)

	cmd := &cobra.Command{
		Use:   "phone [number]",
		Short: "Sign in with a one-time code sent to a phone number",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			phone := ""
			if len(args) == 1 {
				phone = args[0]
			}
			if phone == "" {
				var err error
				if phone, err = a.prompt("Phone number", ""); err != nil {
					return err
				}
			}

			// 1. 認証コードの送信
			conf, err := a.rt.Session.SendPhoneCode(ctx, phone)
			if err != nil {
				return a.signInFailure(err)
			}
			fmt.Fprintf(a.out, "Verification code sent to %s\n", conf.PhoneNumber)

			// 2. 認証コードの確認
			if code == "" {
				if code, err = a.prompt("Verification code", ""); err != nil {
					return err
				}
			}
			user, err := a.rt.Session.VerifyPhoneCode(ctx, conf, code)
			if err != nil {
				return a.signInFailure(err)
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", displayName(user))

			if skipOnboard {
				return nil
			}
			return a.runOnboarding(ctx, user)
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Verification code (prompted when omitted)")
	cmd.Flags().BoolVar(&skipOnboard, "no-onboard", false, "Do not run account checks after signing in")
	return cmd
}

func (a *app) newLoginGoogleCommand() *cobra.Command {
	var skipOnboard bool

	cmd := &cobra.Command{
		Use:   "google",
		Short: "Sign in with a Google account in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			user, err := a.rt.Session.GoogleSignIn(ctx)
			if err != nil {
				return a.signInFailure(err)
			}
			fmt.Fprintf(a.out, "Signed in as %s\n", displayName(user))

			if skipOnboard {
				return nil
			}
			return a.runOnboarding(ctx, user)
		},
	}

	cmd.Flags().BoolVar(&skipOnboard, "no-onboard", false, "Do not run account checks after signing in")
	return cmd
}

// signInFailure はサインインのエラーを表示用に変換する。キャンセルはエラーにしない。
func (a *app) signInFailure(err error) error {
	if errors.Is(err, session.ErrSignInCancelled) {
		fmt.Fprintln(a.out, "Sign-in cancelled.")
		return nil
	}
	var ve *validate.Error
	if errors.As(err, &ve) {
		return errors.New(ve.Message)
	}
	var ae *identity.AuthError
	if errors.As(err, &ae) {
		return fmt.Errorf("sign-in failed (%s): %s", ae.Code, ae.Message)
	}
	return err
}

func (a *app) newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and delete the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.rt.Session.Logout(cmd.Context())
			a.rt.User.Clear()
			if err != nil {
				a.rt.Logger.Warn("logout completed locally", slog.String("error", err.Error()))
			}
			fmt.Fprintln(a.out, "Signed out.")
			return nil
		},
	}
}

func (a *app) newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Check the account and decide the next onboarding step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuth(); err != nil {
				return err
			}
			return a.runOnboarding(cmd.Context(), a.rt.Session.Snapshot().User)
		},
	}
}

// runOnboarding は存在確認からプロフィール判定までを対話的に進める。
func (a *app) runOnboarding(ctx context.Context, user *identity.User) error {
	a.rt.User.SetIdentity(user.Email, user.PhoneNumber)
	flow := onboarding.NewFlow(a.rt.API, a.rt.Gate(), a.rt.Logger)
	if a.rt.Config != nil {
		flow.CountryCode = a.rt.Config.CountryCode
	}

	r, err := flow.Start(ctx, user)
	for err == nil && !r.Terminal() {
		switch r.Route {
		case onboarding.RouteCollectContact:
			fmt.Fprintln(a.out, "We need an email address or phone number to find your account.")
			var form onboarding.AccountForm
			if form, err = a.fillForm(r.Form); err != nil {
				return err
			}
			r, err = a.retryOnInput(flow.SubmitContact(ctx, form))
		case onboarding.RouteCreateAccount:
			fmt.Fprintln(a.out, "No account found. Let's create one.")
			var form onboarding.AccountForm
			if form, err = a.fillForm(r.Form); err != nil {
				return err
			}
			r, err = a.retryOnInput(flow.SubmitAccount(ctx, form))
		}
	}
	if err != nil {
		return err
	}

	switch r.Route {
	case onboarding.RouteEntry:
		return errors.New(r.Alert)
	case onboarding.RouteProfileSetup:
		fmt.Fprintln(a.out, "Your profile is incomplete. Continue with `kindredctl profile set` and `kindredctl profile upload`.")
	case onboarding.RouteMainShell:
		name := "back"
		if r.Profile != nil && r.Profile.Details != nil && r.Profile.Details.Name != nil {
			name = *r.Profile.Details.Name
		}
		fmt.Fprintf(a.out, "Welcome %s! Run `kindredctl feed` to see profiles.\n", name)
	}
	return nil
}

// retryOnInput は入力の誤りや作成の拒否を表示し、同じ画面に留まる。
func (a *app) retryOnInput(r onboarding.Result, err error) (onboarding.Result, error) {
	var ve *validate.Error
	switch {
	case err == nil:
		return r, nil
	case errors.As(err, &ve):
		fmt.Fprintf(a.out, "  %s\n", ve.Message)
		return r, nil
	case errors.Is(err, onboarding.ErrAccountRejected):
		fmt.Fprintf(a.out, "  %s\n", err)
		return r, nil
	default:
		return r, err
	}
}

// fillForm は編集可能な項目だけを入力させる。
func (a *app) fillForm(form *onboarding.AccountForm) (onboarding.AccountForm, error) {
	var f onboarding.AccountForm
	if form != nil {
		f = *form
	}

	var err error
	if f.EmailEditable {
		if f.Email, err = a.prompt("Email", f.Email); err != nil {
			return f, err
		}
	} else {
		fmt.Fprintf(a.out, "Email: %s\n", f.Email)
	}
	if f.PhoneEditable {
		if f.Phone, err = a.prompt("Phone", f.Phone); err != nil {
			return f, err
		}
	} else {
		fmt.Fprintf(a.out, "Phone: %s\n", f.Phone)
	}
	return f, nil
}

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state and a profile summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			snap := a.rt.Session.Snapshot()

			st := statusView{State: string(snap.State)}
			if snap.User != nil {
				st.UID = snap.User.UID
				st.Email = snap.User.Email
				st.Phone = snap.User.PhoneNumber
			}

			if snap.Authenticated() {
				// プロフィール類とマッチ一覧を並行して取得する。片方の失敗は表示のみ。
				var matches []api.MatchSummary
				var g errgroup.Group
				g.Go(func() error {
					if err := a.rt.User.RefreshAll(ctx); err != nil {
						st.Warnings = append(st.Warnings, err.Error())
					}
					return nil
				})
				g.Go(func() error {
					var err error
					matches, err = a.rt.API.GetMatches(ctx)
					return err
				})
				if err := g.Wait(); err != nil {
					st.Warnings = append(st.Warnings, "matches: "+err.Error())
				}

				v := a.rt.User.View()
				if v.Details.Name != nil {
					st.Name = *v.Details.Name
				}
				st.Images = len(v.Images)
				st.Prompts = len(v.Prompts)
				st.ProfileComplete = v.IsProfileComplete
				st.Matches = len(matches)
			}

			return a.print(st, func(w *tabPrinter) {
				w.row("State", st.State)
				if st.UID != "" {
					w.row("User", st.UID)
					w.row("Email", st.Email)
					w.row("Phone", st.Phone)
				}
				if snap.Authenticated() {
					w.row("Name", st.Name)
					w.row("Images", fmt.Sprint(st.Images))
					w.row("Prompts", fmt.Sprint(st.Prompts))
					w.row("Complete", fmt.Sprint(st.ProfileComplete))
					w.row("Matches", fmt.Sprint(st.Matches))
				}
				for _, warn := range st.Warnings {
					w.row("Warning", warn)
				}
			})
		},
	}
}

type statusView struct {
	State           string   `json:"state"`
	UID             string   `json:"uid,omitempty"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Name            string   `json:"name,omitempty"`
	Images          int      `json:"images"`
	Prompts         int      `json:"prompts"`
	ProfileComplete bool     `json:"profile_complete"`
	Matches         int      `json:"matches"`
	Warnings        []string `json:"warnings,omitempty"`
}

func displayName(u *identity.User) string {
	switch {
	case u == nil:
		return "unknown"
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	case u.PhoneNumber != "":
		return u.PhoneNumber
	default:
		return u.UID
	}
}
