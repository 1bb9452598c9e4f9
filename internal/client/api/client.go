// Package api はバックエンドREST APIのクライアントを提供する。
// すべての呼び出しは単一のRequestを経由し、JSONの送受信とベアラートークンの付与を行う。
// 再試行やバックオフは行わない。タイムアウトは呼び出し元のcontextで制御する。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/kindred/internal/client/tokenstore"
	"github.com/hitoshi/kindred/internal/telemetry"
)

// APIPrefix はすべてのエンドポイントに付与するパス接頭辞。
const APIPrefix = "/api/v1"

// DefaultErrorMessage はエラーレスポンスにmessageが無い場合のメッセージ。
const DefaultErrorMessage = "API request failed"

// maxResponseSize は読み取るレスポンスボディの最大バイト数。
const maxResponseSize = 10 << 20

// Error は2xx以外のレスポンスを表す。
type Error struct {
	StatusCode     int
	Code           string
	Message        string
	PendingActions []string
}

func (e *Error) Error() string {
	return e.Message
}

// RequestOptions は1回のリクエストの指定。
type RequestOptions struct {
	// Method が空の場合はGET。
	Method string
	// Body がnilでない場合はJSONとして送信する。
	Body any
	// RequiresAuth がtrueでトークンが保存されている場合にAuthorizationヘッダーを付与する。
	RequiresAuth bool
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     tokenstore.Store
	logger     *slog.Logger
}

// NewClient はClientを生成する。
// httpClientがnilの場合はトレースコンテキストを伝搬するTransportを持つクライアントを使う。
func NewClient(baseURL string, tokens tokenstore.Store, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: telemetry.Transport(nil)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		logger:     logger,
	}
}

// BaseURL はAPI接頭辞を含まないベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// errorBody はエラーレスポンスから読み取る項目。
type errorBody struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	PendingActions []string `json:"pending_actions"`
}

// Request はendpointにリクエストを送り、成功レスポンスをoutにデコードする。
// outがnilの場合はボディを読み捨てる。
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	// 1. ボディのエンコード
	var body io.Reader
	if opts.Body != nil {
		raw, err := json.Marshal(opts.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	// 2. リクエストの構築
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+APIPrefix+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if opts.RequiresAuth && c.tokens != nil {
		if token := c.tokens.Get(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// 3. 送信
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("API request failed",
			slog.String("method", method),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("API request completed",
		slog.String("method", method),
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
	)

	// 4. エラーレスポンス
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: DefaultErrorMessage}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			if eb.Message != "" {
				apiErr.Message = eb.Message
			}
			apiErr.Code = eb.Code
			apiErr.PendingActions = eb.PendingActions
		}
		return apiErr
	}

	// 5. 成功レスポンスのデコード
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}
