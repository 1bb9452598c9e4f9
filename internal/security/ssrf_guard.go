// Package security は外部画像の取り込みとユーザー入力テキストの無害化を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// 画像取り込みの失敗理由
var (
	ErrInvalidURL = errors.New("invalid image url")
	ErrBlockedURL = errors.New("blocked image url")
	ErrNotImage   = errors.New("response is not a supported image")
	ErrTooLarge   = errors.New("image exceeds size limit")
)

// ImageFetcher は外部URLからプロフィール画像を取得するインターフェース。
type ImageFetcher interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// Fetch は画像をダウンロードする。
	// プライベートネットワーク宛てのURL、画像以外のレスポンス、上限サイズ超過はエラーになる。
	Fetch(ctx context.Context, rawURL string) (*FetchedImage, error)
}

// FetchedImage は取得した画像を表す。
type FetchedImage struct {
	Data        []byte
	ContentType string
	Filename    string
}

// allowedSchemes は取り込みを許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// allowedImageTypes は取り込みを許可するContent-Type。
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// blockedNetworks は取り込み先として拒否するネットワーク範囲。
// DNS解決後のIPはsafeurlのDialerが検証する。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// SSRFGuard はSSRF対策付きで外部画像を取得する。
type SSRFGuard struct {
	client  *http.Client
	maxSize int64
}

// compile-time interface check
var _ ImageFetcher = (*SSRFGuard)(nil)

// NewSSRFGuard はSSRFGuardを生成する。
// HTTPクライアントはsafeurlで構築し、接続時にも宛先IPを検証する。
func NewSSRFGuard(timeout time.Duration, maxSize int64) *SSRFGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &SSRFGuard{
		client:  safeurl.Client(config).Client,
		maxSize: maxSize,
	}
}

// ValidateURL はURLのスキームとホストを検証する。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: disallowed scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: %s", ErrBlockedURL, ip)
			}
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("%w: %s", ErrBlockedURL, host)
	}
	return nil
}

// Fetch は画像をダウンロードする。
func (g *SSRFGuard) Fetch(ctx context.Context, rawURL string) (*FetchedImage, error) {
	// 1. 静的検証
	if err := g.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	// 2. 取得
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: unexpected status %d", resp.StatusCode)
	}

	// 3. Content-Typeとサイズの検証
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !allowedImageTypes[mediaType] {
		return nil, fmt.Errorf("%w: %q", ErrNotImage, resp.Header.Get("Content-Type"))
	}
	if g.maxSize > 0 && resp.ContentLength > g.maxSize {
		return nil, ErrTooLarge
	}

	var body io.Reader = resp.Body
	if g.maxSize > 0 {
		body = io.LimitReader(resp.Body, g.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if g.maxSize > 0 && int64(len(data)) > g.maxSize {
		return nil, ErrTooLarge
	}

	return &FetchedImage{
		Data:        data,
		ContentType: mediaType,
		Filename:    filenameFromURL(req.URL),
	}, nil
}

// filenameFromURL はURLパスの末尾をファイル名として返す。
func filenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
