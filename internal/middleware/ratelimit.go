package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/kindred/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	AuthRate        rate.Limit    // 電話番号ログインのレート（req/sec）
	AuthBurst       int           // 電話番号ログインのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// RateLimiterConfigPerMinute は1分あたりのリクエスト数からレート制限設定を生成する。
// API全般はユーザー単位、電話番号ログインはクライアントIP単位で制限する。
func RateLimiterConfigPerMinute(general, auth int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		AuthRate:        rate.Limit(float64(auth) / 60.0),
		AuthBurst:       auth,
		CleanupInterval: 5 * time.Minute,
	}
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、電話番号ログイン 10 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfigPerMinute(120, 10)
}

// keyedLimiter はキーごとのトークンバケットを保持する。
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newKeyedLimiter(limit rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// allow はキーのバケットから1トークン消費できるかを返す。
func (k *keyedLimiter) allow(key string, now time.Time) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastAccess = now
	k.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// purge は最終アクセスがcutoffより前のエントリを削除する。
func (k *keyedLimiter) purge(cutoff time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.entries {
		if e.lastAccess.Before(cutoff) {
			delete(k.entries, key)
		}
	}
}

func (k *keyedLimiter) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// RateLimiter はAPI全般と電話番号ログインのレート制限を管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *keyedLimiter
	auth    *keyedLimiter
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newKeyedLimiter(config.GeneralRate, config.GeneralBurst),
		auth:    newKeyedLimiter(config.AuthRate, config.AuthBurst),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はユーザー単位のレート制限ミドルウェアを返す。
// ユーザー解決ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := UserIDFromContext(r.Context())
			if err != nil {
				// 未登録ユーザー（存在確認・作成）はトークンのsubjectで数える
				p, ok := PrincipalFromContext(r.Context())
				if !ok {
					WriteUnauthorized(w)
					return
				}
				key = "sub:" + p.Subject
			}

			if !rl.general.allow(key, rl.now()) {
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", "general"),
				)
				writeRateLimitResponse(w, rl.config.GeneralRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware はクライアントIP単位で電話番号ログインを制限するミドルウェアを返す。
// 認証コードの総当たりを防ぐため、API全般とは独立に動作する。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.auth.allow(ip, rl.now()) {
				slog.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("limit_type", "auth"),
				)
				writeRateLimitResponse(w, rl.config.AuthRate)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// AuthLimiterCount は現在管理されている電話番号ログインリミッターのエントリ数を返す。
func (rl *RateLimiter) AuthLimiterCount() int {
	return rl.auth.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	cutoff := rl.now().Add(-2 * rl.config.CleanupInterval)
	rl.general.purge(cutoff)
	rl.auth.purge(cutoff)
}

// clientIP はRemoteAddrからホスト部を返す。
// プロキシ配下ではchiのRealIPミドルウェアでRemoteAddrを書き換えておく。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMITED",
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
