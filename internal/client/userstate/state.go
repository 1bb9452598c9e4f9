// Package userstate はサインイン中ユーザーのプロフィール・プロンプト・希望条件をメモリに保持する。
// 保持する値は取得のたびに丸ごと置き換え、並行する更新は後勝ち。
package userstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/kindred/internal/client/api"
)

// RequiredImages はプロフィール完成とみなす画像枚数。
const RequiredImages = 6

// Backend はStateが使うAPI。
type Backend interface {
	GetMyProfile(ctx context.Context) (*api.UserProfile, error)
	UpdateProfile(ctx context.Context, details api.ProfileDetails) (*api.StatusResponse, error)
	GetPrompts(ctx context.Context) ([]api.UserPrompt, error)
	GetPreferences(ctx context.Context) (*api.Preferences, error)
	UpdatePreferences(ctx context.Context, update api.PreferencesUpdate) (*api.StatusResponse, error)
}

// compile-time interface check
var _ Backend = (*api.Client)(nil)

// View はStateのある時点の写し。
type View struct {
	Email             string
	Phone             string
	Details           api.ProfileDetails
	Images            []api.UserImage
	Prompts           []api.UserPrompt
	Preferences       *api.Preferences
	Loading           bool
	IsProfileComplete bool
}

// State はユーザー情報の保持者。画面間で参照を渡して共有する。
type State struct {
	backend Backend
	logger  *slog.Logger

	mu          sync.Mutex
	email       string
	phone       string
	details     api.ProfileDetails
	images      []api.UserImage
	prompts     []api.UserPrompt
	preferences *api.Preferences
	loading     int
}

// New はStateを生成する。
func New(backend Backend, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{backend: backend, logger: logger}
}

// View は現在の値の写しを返す。
func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Email:             s.email,
		Phone:             s.phone,
		Details:           s.details,
		Images:            append([]api.UserImage(nil), s.images...),
		Prompts:           append([]api.UserPrompt(nil), s.prompts...),
		Loading:           s.loading > 0,
		IsProfileComplete: len(s.images) >= RequiredImages,
	}
	if s.preferences != nil {
		p := *s.preferences
		v.Preferences = &p
	}
	return v
}

// SetIdentity は本人識別に使うメールアドレスと電話番号を設定する。
func (s *State) SetIdentity(email, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
	s.phone = phone
}

func (s *State) startLoading() func() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}
}

// FetchProfile はプロフィールを取得し、詳細と画像を置き換える。
// プロンプトはFetchPromptsの結果のみを保持する。
func (s *State) FetchProfile(ctx context.Context) error {
	defer s.startLoading()()

	profile, err := s.backend.GetMyProfile(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = api.ProfileDetails{}
	if profile.Details != nil {
		s.details = *profile.Details
	}
	s.images = profile.Images
	return nil
}

// FetchPrompts はプロンプト一覧を取得して置き換える。
func (s *State) FetchPrompts(ctx context.Context) error {
	defer s.startLoading()()

	prompts, err := s.backend.GetPrompts(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch prompts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = prompts
	return nil
}

// FetchPreferences は希望条件を取得して置き換える。
func (s *State) FetchPreferences(ctx context.Context) error {
	defer s.startLoading()()

	prefs, err := s.backend.GetPreferences(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch preferences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences = prefs
	return nil
}

// RefreshAll はプロフィール・プロンプト・希望条件を並行して取得する。
// 一部が失敗しても成功した分は反映し、失敗をまとめて返す。
func (s *State) RefreshAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	collect := func(fn func(context.Context) error) func() error {
		return func() error {
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		}
	}

	var g errgroup.Group
	g.Go(collect(s.FetchProfile))
	g.Go(collect(s.FetchPrompts))
	g.Go(collect(s.FetchPreferences))
	_ = g.Wait()

	if len(errs) > 0 {
		s.logger.Warn("partial refresh failure", slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

// UpdateProfile はプロフィール詳細を更新し、成功した場合は手元の値に重ねる。
func (s *State) UpdateProfile(ctx context.Context, patch api.ProfileDetails) error {
	defer s.startLoading()()

	resp, err := s.backend.UpdateProfile(ctx, patch)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("failed to update profile: %s", resp.Message)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = s.details.Merge(patch)
	return nil
}

// UpdatePreferences は希望条件を更新する。本人識別のためにメールアドレスと電話番号を添える。
func (s *State) UpdatePreferences(ctx context.Context, patch api.Preferences) error {
	defer s.startLoading()()

	s.mu.Lock()
	update := api.PreferencesUpdate{Preferences: patch, Email: s.email, Phone: s.phone}
	s.mu.Unlock()

	resp, err := s.backend.UpdatePreferences(ctx, update)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("failed to update preferences: %s", resp.Message)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var current api.Preferences
	if s.preferences != nil {
		current = *s.preferences
	}
	merged := current.Merge(patch)
	s.preferences = &merged
	return nil
}

// Clear はサインアウト時にすべての値を破棄する。
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = ""
	s.phone = ""
	s.details = api.ProfileDetails{}
	s.images = nil
	s.prompts = nil
	s.preferences = nil
}
