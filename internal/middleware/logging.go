package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/kindred/internal/metrics"
	"github.com/hitoshi/kindred/internal/telemetry"
)

// requestInfo は内側のミドルウェアで判明した情報をアクセスログに渡す。
type requestInfo struct {
	userID string
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力し、
// ステータスコードと処理時間をメトリクスに記録するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、user_id、trace_idを含む。
func NewLoggingMiddleware(logger *slog.Logger, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{}
			ctx := r.Context()
			if userID, err := UserIDFromContext(ctx); err == nil {
				info.userID = userID
			}
			r = r.WithContext(contextWithRequestInfo(ctx, info))

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			mc.RecordHTTPStatus(rec.statusCode)
			mc.RecordRequestLatency(duration)

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
			}
			if info.userID != "" {
				args = append(args, slog.String("user_id", info.userID))
			}
			if traceID := telemetry.TraceID(r.Context()); traceID != "" {
				args = append(args, slog.String("trace_id", traceID))
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
