// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/kindred/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey   = contextKey("principal")
	userIDContextKey      = contextKey("user_id")
	requestInfoContextKey = contextKey("request_info")
)

// TokenVerifier はベアラートークンを検証して呼び出し元を返す。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*model.Principal, error)
}

// UserResolver は呼び出し元に対応する登録済みユーザーを返す。
type UserResolver interface {
	Resolve(ctx context.Context, p *model.Principal) (*model.User, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 呼び出し元をリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い、または無効な場合は401を返す。
func NewBearerAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. ヘッダーからトークンを取得
			token, ok := bearerToken(r)
			if !ok {
				WriteUnauthorized(w)
				return
			}

			// 2. トークンを検証
			p, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				slog.Warn("bearer token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteUnauthorized(w)
				return
			}

			// 3. 呼び出し元をコンテキストに注入
			ctx := ContextWithPrincipal(r.Context(), p)
			if p.UserID != "" {
				ctx = ContextWithUserID(ctx, p.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewUserResolveMiddleware は呼び出し元を登録済みユーザーに解決し、
// ユーザーIDをコンテキストに注入するミドルウェアを返す。
// NewBearerAuthMiddlewareの後に配置する。
func NewUserResolveMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w)
				return
			}

			user, err := resolver.Resolve(r.Context(), p)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusNotFound, apiErr)
					return
				}
				slog.Error("failed to resolve user", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), user.ID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// PrincipalFromContext はリクエストコンテキストから呼び出し元を取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	return p, ok && p != nil
}

// ContextWithPrincipal はコンテキストに呼び出し元を注入する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ユーザー解決ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// アクセスログ用の記録先があればそこにも書き込む。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

func contextWithRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey, info)
}
