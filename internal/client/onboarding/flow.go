// Package onboarding はサインイン後の画面遷移（連絡先入力・アカウント作成・プロフィール設定・メイン画面）を決める。
// 存在確認 → 作成 → プロフィール取得 を1つのキャンセル可能なFlowとして実行する。
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/kindred/internal/client/api"
	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/validate"
)

// Route は次に表示する画面。
type Route string

const (
	RouteCollectContact Route = "collect_contact"
	RouteCreateAccount  Route = "create_account"
	RouteEntry          Route = "entry"
	RouteProfileSetup   Route = "profile_setup"
	RouteMainShell      Route = "main_shell"
)

// DefaultRequiredImages は画像数で判定する場合に必要な枚数。
const DefaultRequiredImages = 6

// DefaultAlertMessage はサーバーのメッセージが無い場合の存在確認エラーの表示文言。
const DefaultAlertMessage = "Unable to verify your account. Please try again."

var (
	// ErrSubmitInProgress は前の送信が完了する前に再送信した場合のエラー。
	ErrSubmitInProgress = errors.New("onboarding: submission already in progress")
	// ErrAccountRejected はアカウント作成がstatus errorで拒否された場合のエラー。
	ErrAccountRejected = errors.New("onboarding: account creation rejected")
	// ErrUnexpectedStep は現在の画面では実行できない操作のエラー。
	ErrUnexpectedStep = errors.New("onboarding: unexpected step")
)

// Gateway はFlowが使うAPI。
type Gateway interface {
	CheckUserExists(ctx context.Context, id api.Identifier) (*api.ExistsResponse, error)
	CreateUser(ctx context.Context, id api.Identifier) (*api.StatusResponse, error)
	GetMyProfile(ctx context.Context) (*api.UserProfile, error)
}

// compile-time interface check
var _ Gateway = (*api.Client)(nil)

// AccountForm は連絡先・アカウント作成フォームの内容。
// Editableがfalseの項目はIDプロバイダーから取得済みで変更できない。
type AccountForm struct {
	Email         string
	Phone         string
	EmailEditable bool
	PhoneEditable bool
}

// Result はFlowの現在の段階。
type Result struct {
	Route Route
	// Form はRouteCollectContactとRouteCreateAccountで表示するフォーム。
	Form *AccountForm
	// Alert はRouteEntryで表示するメッセージ。
	Alert string
	// Profile はステップ3で取得したプロフィール。取得に失敗した場合はnil。
	Profile *api.UserProfile
}

// Terminal はこれ以上進まない段階かどうかを返す。
func (r Result) Terminal() bool {
	switch r.Route {
	case RouteEntry, RouteProfileSetup, RouteMainShell:
		return true
	default:
		return false
	}
}

// RouteForProfile は名前の有無でプロフィール設定とメイン画面を振り分ける。
// 空文字以外の名前は空白のみでも入力済みとみなす。
func RouteForProfile(p *api.UserProfile) Route {
	if p != nil && p.Details != nil && p.Details.Name != nil && *p.Details.Name != "" {
		return RouteMainShell
	}
	return RouteProfileSetup
}

// ImageGate は画像がn枚以上あればメイン画面とする判定関数を返す。nが0以下の場合はDefaultRequiredImages。
func ImageGate(n int) func(*api.UserProfile) Route {
	if n <= 0 {
		n = DefaultRequiredImages
	}
	return func(p *api.UserProfile) Route {
		if p != nil && len(p.Images) >= n {
			return RouteMainShell
		}
		return RouteProfileSetup
	}
}

// Flow はサインイン直後の1回分の遷移判定。再利用せず、サインインごとに生成する。
type Flow struct {
	// CountryCode は入力された電話番号に付与する国番号。空の場合はidentity.DefaultCountryCode。
	CountryCode string

	gateway Gateway
	logger  *slog.Logger
	gate    func(*api.UserProfile) Route

	mu       sync.Mutex
	inFlight bool
	current  Result
}

// NewFlow はFlowを生成する。gateがnilの場合はRouteForProfileを使う。
func NewFlow(gateway Gateway, gate func(*api.UserProfile) Route, logger *slog.Logger) *Flow {
	if gate == nil {
		gate = RouteForProfile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{gateway: gateway, gate: gate, logger: logger}
}

// Current は現在の段階を返す。
func (f *Flow) Current() Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// begin は送信中フラグを立てる。既に送信中の場合はErrSubmitInProgress。
func (f *Flow) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight {
		return ErrSubmitInProgress
	}
	f.inFlight = true
	return nil
}

func (f *Flow) finish(r Result) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	f.current = r
	return r
}

// Start はサインインしたユーザーについて判定を開始する。
// 1. メールアドレスも電話番号も無ければ連絡先入力
// 2. 存在確認（exists→3, not_found→作成フォーム, error→入口に戻す）
// 3. プロフィール取得と振り分け
func (f *Flow) Start(ctx context.Context, user *identity.User) (Result, error) {
	if user == nil {
		return Result{}, errors.New("onboarding: no signed-in user")
	}
	if err := f.begin(); err != nil {
		return f.Current(), err
	}

	email := strings.TrimSpace(user.Email)
	phone := strings.TrimSpace(user.PhoneNumber)

	if email == "" && phone == "" {
		return f.finish(Result{
			Route: RouteCollectContact,
			Form:  &AccountForm{EmailEditable: true, PhoneEditable: true},
		}), nil
	}

	r, err := f.checkExistence(ctx, api.Identifier{Email: email, Phone: phone})
	return f.finish(r), err
}

// SubmitContact は連絡先入力画面の内容で存在確認を行う。少なくとも一方が必要。
func (f *Flow) SubmitContact(ctx context.Context, form AccountForm) (Result, error) {
	if f.Current().Route != RouteCollectContact {
		return f.Current(), ErrUnexpectedStep
	}

	email := strings.TrimSpace(form.Email)
	phone := strings.TrimSpace(form.Phone)
	switch {
	case email == "" && phone == "":
		return f.Current(), &validate.Error{Field: "email", Message: "Email or phone number is required"}
	case email != "":
		if err := validate.Email(email); err != nil {
			return f.Current(), err
		}
	}
	if phone != "" {
		if err := validate.Phone(phone); err != nil {
			return f.Current(), err
		}
		phone = identity.FormatPhone(phone, f.CountryCode)
	}

	if err := f.begin(); err != nil {
		return f.Current(), err
	}
	r, err := f.checkExistence(ctx, api.Identifier{Email: email, Phone: phone})
	return f.finish(r), err
}

// checkExistence はステップ2を実行する。
func (f *Flow) checkExistence(ctx context.Context, id api.Identifier) (Result, error) {
	resp, err := f.gateway.CheckUserExists(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Route: RouteEntry}, fmt.Errorf("onboarding: cancelled: %w", ctx.Err())
		}
		f.logger.Warn("user existence check failed", slog.String("error", err.Error()))
		return Result{Route: RouteEntry, Alert: alertMessage(err)}, nil
	}

	switch resp.Status {
	case api.ExistenceExists:
		return f.routeByProfile(ctx)
	case api.ExistenceNotFound:
		return Result{
			Route: RouteCreateAccount,
			Form: &AccountForm{
				Email:         id.Email,
				Phone:         id.Phone,
				EmailEditable: id.Email == "",
				PhoneEditable: id.Phone == "",
			},
		}, nil
	default:
		msg := resp.Message
		if msg == "" {
			msg = DefaultAlertMessage
		}
		f.logger.Warn("user existence check returned error", slog.String("message", resp.Message))
		return Result{Route: RouteEntry, Alert: msg}, nil
	}
}

// SubmitAccount はアカウント作成フォームを送信する。成功した場合は存在確認をせずにステップ3へ進む。
// 作成に失敗した場合はフォームに留まりエラーを返す。
func (f *Flow) SubmitAccount(ctx context.Context, form AccountForm) (Result, error) {
	cur := f.Current()
	if cur.Route != RouteCreateAccount || cur.Form == nil {
		return cur, ErrUnexpectedStep
	}

	// 取得済みの項目は変更させない
	email, phone := strings.TrimSpace(form.Email), strings.TrimSpace(form.Phone)
	if !cur.Form.EmailEditable {
		email = cur.Form.Email
	}
	if !cur.Form.PhoneEditable {
		phone = cur.Form.Phone
	}
	if err := validate.Account(email, phone); err != nil {
		return cur, err
	}
	// 電話番号サインインと同じE.164形式で登録する
	if cur.Form.PhoneEditable {
		phone = identity.FormatPhone(phone, f.CountryCode)
	}

	if err := f.begin(); err != nil {
		return cur, err
	}

	stay := *cur.Form
	stay.Email, stay.Phone = email, phone
	stayResult := Result{Route: RouteCreateAccount, Form: &stay}

	resp, err := f.gateway.CreateUser(ctx, api.Identifier{Email: email, Phone: phone})
	if err != nil {
		f.finish(stayResult)
		return stayResult, fmt.Errorf("failed to create account: %w", err)
	}
	if !resp.OK() {
		f.finish(stayResult)
		return stayResult, fmt.Errorf("%w: %s", ErrAccountRejected, resp.Message)
	}

	f.logger.Info("account created")
	r, err := f.routeByProfile(ctx)
	return f.finish(r), err
}

// routeByProfile はステップ3を実行する。取得に失敗した場合はプロフィール設定へ進む。
func (f *Flow) routeByProfile(ctx context.Context) (Result, error) {
	profile, err := f.gateway.GetMyProfile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Route: RouteEntry}, fmt.Errorf("onboarding: cancelled: %w", ctx.Err())
		}
		f.logger.Warn("failed to fetch profile, routing to setup", slog.String("error", err.Error()))
		return Result{Route: RouteProfileSetup}, nil
	}
	return Result{Route: f.gate(profile), Profile: profile}, nil
}

// alertMessage はAPIエラーのメッセージ、無ければ既定の文言を返す。
func alertMessage(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Message != api.DefaultErrorMessage {
		return apiErr.Message
	}
	return DefaultAlertMessage
}
