package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
)

// PutObject は署名付きURLにオブジェクトをPUTする。
// 署名付きURL自体が認可を持つため、Authorizationヘッダーは付与しない。
func (c *Client) PutObject(ctx context.Context, uploadURL, contentType string, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Message: "Failed to upload image"}
	}
	return nil
}

// UploadImage は署名付きURLの発行、アップロード、登録を順に行い、画像を追加する。
func (c *Client) UploadImage(ctx context.Context, filename, contentType string, body io.Reader, size int64) (*ImageResult, error) {
	// 1. 署名付きURLの発行
	target, err := c.GetUploadURL(ctx, filepath.Base(filename), contentType)
	if err != nil {
		return nil, err
	}

	// 2. オブジェクトストレージへ直接アップロード
	if err := c.PutObject(ctx, target.UploadURL, contentType, body, size); err != nil {
		return nil, err
	}

	// 3. 画像として登録
	return c.ConfirmUpload(ctx, target.Key)
}
