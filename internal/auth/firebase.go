package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultFirebaseCertsURL はFirebase IDトークン署名用の公開証明書エンドポイント。
	DefaultFirebaseCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	// firebaseIssuerPrefix はFirebase IDトークンのissの接頭辞。
	firebaseIssuerPrefix = "https://securetoken.google.com/"
	// defaultCertsMaxAge はCache-Controlが無い場合の証明書キャッシュ期間。
	defaultCertsMaxAge = time.Hour
)

// FirebaseClaims はFirebase IDトークンのクレーム。
type FirebaseClaims struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// FirebaseVerifier はFirebase IDトークン(RS256)を検証する。
// 公開証明書はCache-Controlのmax-ageに従ってキャッシュする。
type FirebaseVerifier struct {
	projectID  string
	certsURL   string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// NewFirebaseVerifier はFirebaseVerifierを生成する。
// certsURLが空の場合はGoogleの公開エンドポイントを使用する。
func NewFirebaseVerifier(projectID, certsURL string, httpClient *http.Client, logger *slog.Logger) *FirebaseVerifier {
	if certsURL == "" {
		certsURL = DefaultFirebaseCertsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FirebaseVerifier{
		projectID:  projectID,
		certsURL:   certsURL,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Verify はIDトークンの署名、aud、iss、有効期限を検証しクレームを返す。
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*FirebaseClaims, error) {
	claims := &FirebaseClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("missing kid header")
			}
			return v.publicKey(ctx, kid)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(firebaseIssuerPrefix+v.projectID),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// publicKey はkidに対応する公開鍵を返す。
// キャッシュが期限切れ、またはkidが未知の場合は証明書を再取得する。
func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && v.now().Before(v.expiresAt) {
		return key, nil
	}

	keys, maxAge, err := v.fetchCerts(ctx)
	if err != nil {
		return nil, err
	}
	v.keys = keys
	v.expiresAt = v.now().Add(maxAge)

	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

func (v *FirebaseVerifier) fetchCerts(ctx context.Context) (map[string]*rsa.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create certs request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Error("failed to fetch firebase certs", slog.String("error", err.Error()))
		return nil, 0, fmt.Errorf("failed to fetch certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("certs endpoint returned status %d", resp.StatusCode)
	}

	var pems map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pems); err != nil {
		return nil, 0, fmt.Errorf("failed to decode certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			v.logger.Warn("skipping unparsable firebase cert",
				slog.String("kid", kid),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys[kid] = key
	}

	return keys, cacheMaxAge(resp.Header.Get("Cache-Control")), nil
}

// cacheMaxAge はCache-Controlヘッダーからmax-ageを取り出す。
func cacheMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultCertsMaxAge
}
