package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/kindred/internal/metrics"
	"github.com/hitoshi/kindred/internal/middleware"
)

// APIPrefix はREST APIのパスプレフィックス。
const APIPrefix = "/api/v1"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker
	TokenVerifier     middleware.TokenVerifier
	UserResolver      middleware.UserResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	AuthService        AuthServiceInterface
	UserService        UserServiceInterface
	ProfileService     ProfileServiceInterface
	FeedService        FeedServiceInterface
	InteractionService InteractionServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → SecurityHeaders → CORS → Logging
//	  /api/v1/auth/*: RateLimit(Auth)
//	  その他の/api/v1: BearerAuth → RateLimit(General) → UserResolve
//
// /user/exists と /user/create は未登録ユーザーが呼ぶため、ユーザー解決の前に置く。
// /health と /metrics は認証不要で/api/v1の外に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService, deps.Metrics)
	userHandler := NewUserHandler(deps.UserService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	feedHandler := NewFeedHandler(deps.FeedService)
	interactionHandler := NewInteractionHandler(deps.InteractionService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		// 電話番号ログイン（IP単位のレート制限）
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/auth/phone/login", authHandler.PhoneLogin)
			r.Post("/auth/phone/verify", authHandler.PhoneVerify)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			// 未登録でも呼べるルート
			r.Post("/user/exists", userHandler.Exists)
			r.Post("/user/create", userHandler.Create)

			// 登録済みユーザーのみ
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewUserResolveMiddleware(deps.UserResolver))

				r.Get("/user/preferences", userHandler.GetPreferences)
				r.Post("/user/preferences", userHandler.UpdatePreferences)

				r.Route("/profile", func(r chi.Router) {
					r.Get("/me", profileHandler.Me)
					r.Post("/", profileHandler.UpdateDetails)
					r.Delete("/", userHandler.DeleteAccount)
					r.Post("/images", profileHandler.ImportImage)
					r.Post("/images/confirm", profileHandler.ConfirmUpload)
					r.Delete("/images/{id}", profileHandler.DeleteImage)
					r.Post("/upload-url", profileHandler.UploadURL)
					r.Get("/download-url", profileHandler.DownloadURL)
					r.Post("/finalize", profileHandler.Finalize)
				})

				r.Route("/prompts", func(r chi.Router) {
					r.Get("/", profileHandler.ListPrompts)
					r.Post("/", profileHandler.CreatePrompt)
					r.Put("/{order}", profileHandler.UpdatePrompt)
					r.Delete("/{order}", profileHandler.DeletePrompt)
				})

				r.Get("/feed", feedHandler.Feed)
				r.Post("/interact", interactionHandler.Interact)
				r.Get("/likes", interactionHandler.Likes)

				r.Route("/matches", func(r chi.Router) {
					r.Get("/", interactionHandler.Matches)
					r.Get("/{id}/messages", interactionHandler.Messages)
					r.Post("/{id}/messages", interactionHandler.SendMessage)
				})
			})
		})
	})

	return r
}
