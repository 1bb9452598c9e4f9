package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/kindred/internal/telemetry"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 統一フォーマットの500レスポンスを返すミドルウェアを生成する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				args := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if traceID := telemetry.TraceID(r.Context()); traceID != "" {
					args = append(args, slog.String("trace_id", traceID))
				}
				slog.ErrorContext(r.Context(), "panic recovered", args...)
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
