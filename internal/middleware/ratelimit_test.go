package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/kindred/internal/model"
)

// newTestRateLimiter は時刻を固定したRateLimiterを生成する。
func newTestRateLimiter(t *testing.T, general, auth int) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfigPerMinute(general, auth))
	t.Cleanup(rl.Stop)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAsUser(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(120, 10)

	if cfg.GeneralRate != rate.Limit(2) || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 10 || cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("auth = %v/%d, cleanup = %v", cfg.AuthRate, cfg.AuthBurst, cfg.CleanupInterval)
	}
}

// TestGeneralMiddleware_PerUserBucket はユーザーごとに独立したバケットで制限されることを検証する。
func TestGeneralMiddleware_PerUserBucket(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 2, 10)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAsUser("alice"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser("alice"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 30 || ra > 31 {
		t.Errorf("Retry-After = %q, want about 30", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMITED" || body.Status != "error" {
		t.Errorf("body = %+v", body)
	}

	// 別ユーザーは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser("bob"))
	if w.Code != http.StatusOK {
		t.Errorf("bob status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

// TestGeneralMiddleware_RefillsOverTime は時間経過でトークンが補充されることを検証する。
func TestGeneralMiddleware_RefillsOverTime(t *testing.T) {
	rl, now := newTestRateLimiter(t, 1, 10)
	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser("alice"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser("alice"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}

	*now = now.Add(time.Minute)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAsUser("alice"))
	if w.Code != http.StatusOK {
		t.Errorf("status after refill = %d, want 200", w.Code)
	}
}

// TestGeneralMiddleware_FallsBackToSubject は未登録ユーザーをトークンのsubjectで数えることを検証する。
func TestGeneralMiddleware_FallsBackToSubject(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 1, 10)
	handler := rl.GeneralMiddleware()(okHandler())

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/create", nil)
		return req.WithContext(ContextWithPrincipal(req.Context(), &model.Principal{Subject: "fb-1"}))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newReq())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newReq())
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestGeneralMiddleware_Anonymous_Returns401(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 10, 10)
	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// TestAuthMiddleware_PerIP は電話番号ログインがクライアントIP単位で制限されることを検証する。
func TestAuthMiddleware_PerIP(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 100, 2)
	handler := rl.AuthMiddleware()(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/phone/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if send("10.0.0.1:5000") != http.StatusOK || send("10.0.0.1:5001") != http.StatusOK {
		t.Fatal("first two requests should pass")
	}
	if code := send("10.0.0.1:5002"); code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", code)
	}
	if code := send("10.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", code)
	}
	if rl.AuthLimiterCount() != 2 {
		t.Errorf("AuthLimiterCount = %d, want 2", rl.AuthLimiterCount())
	}
}

// TestRateLimiter_Cleanup は一定時間アクセスの無いエントリが削除されることを検証する。
func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := newTestRateLimiter(t, 10, 10)
	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAsUser("stale"))
	*now = now.Add(9 * time.Minute)
	handler.ServeHTTP(httptest.NewRecorder(), requestAsUser("fresh"))
	*now = now.Add(2 * time.Minute)

	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
