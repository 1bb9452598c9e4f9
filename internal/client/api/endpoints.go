package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/kindred/internal/client/validate"
)

// --- 認証 ---

// PhoneLogin は電話番号に認証コードを送り、認証IDを返す。
func (c *Client) PhoneLogin(ctx context.Context, phone string) (*LoginResponse, error) {
	if err := validate.Phone(phone); err != nil {
		return nil, err
	}
	var resp LoginResponse
	err := c.Request(ctx, "/auth/phone/login", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"phone": phone},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PhoneVerify は認証コードを検証し、トークンを返す。
func (c *Client) PhoneVerify(ctx context.Context, verificationID, code string) (*AuthResponse, error) {
	if err := validate.OTP(code); err != nil {
		return nil, err
	}
	var resp AuthResponse
	err := c.Request(ctx, "/auth/phone/verify", RequestOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"verification_id": verificationID, "code": strings.TrimSpace(code)},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("phone verify: response has no token")
	}
	return &resp, nil
}

// --- ユーザー ---

// CheckUserExists はメールアドレスまたは電話番号でユーザーの存在を確認する。
// 未知のstatusはerrorとして扱う。
func (c *Client) CheckUserExists(ctx context.Context, id Identifier) (*ExistsResponse, error) {
	var resp ExistsResponse
	err := c.Request(ctx, "/user/exists", RequestOptions{
		Method:       http.MethodPost,
		Body:         id,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	switch resp.Status {
	case ExistenceExists, ExistenceNotFound, ExistenceError:
	default:
		resp.Status = ExistenceError
	}
	return &resp, nil
}

// CreateUser はアカウントを作成する。重複時はstatus errorの応答を返す。
func (c *Client) CreateUser(ctx context.Context, id Identifier) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.Request(ctx, "/user/create", RequestOptions{
		Method:       http.MethodPost,
		Body:         id,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPreferences は希望条件を返す。
func (c *Client) GetPreferences(ctx context.Context) (*Preferences, error) {
	var resp Preferences
	if err := c.Request(ctx, "/user/preferences", RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdatePreferences は希望条件を更新する。
func (c *Client) UpdatePreferences(ctx context.Context, update PreferencesUpdate) (*StatusResponse, error) {
	if r := update.AgeRange; r != nil && r.Min > r.Max {
		return nil, &validate.Error{Field: "age_range", Message: "Minimum age must not exceed maximum age"}
	}
	var resp StatusResponse
	err := c.Request(ctx, "/user/preferences", RequestOptions{
		Method:       http.MethodPost,
		Body:         update,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- プロフィール ---

// GetMyProfile は自分のプロフィールを返す。
func (c *Client) GetMyProfile(ctx context.Context) (*UserProfile, error) {
	var resp UserProfile
	if err := c.Request(ctx, "/profile/me", RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateProfile はプロフィール詳細を部分更新する。
func (c *Client) UpdateProfile(ctx context.Context, details ProfileDetails) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.Request(ctx, "/profile", RequestOptions{
		Method:       http.MethodPost,
		Body:         details,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadProfileImage は外部URLの画像をプロフィール画像として取り込む。
func (c *Client) UploadProfileImage(ctx context.Context, imageURL string) (*ImageResult, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &validate.Error{Field: "image_url", Message: "Please enter a valid image URL"}
	}
	var resp ImageResult
	err = c.Request(ctx, "/profile/images", RequestOptions{
		Method:       http.MethodPost,
		Body:         map[string]string{"image_url": imageURL},
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUploadURL は画像アップロード用の署名付きURLを発行する。
func (c *Client) GetUploadURL(ctx context.Context, filename, contentType string) (*UploadTarget, error) {
	var resp UploadTarget
	err := c.Request(ctx, "/profile/upload-url", RequestOptions{
		Method:       http.MethodPost,
		Body:         map[string]string{"filename": filename, "content_type": contentType},
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.UploadURL == "" || resp.Key == "" {
		return nil, fmt.Errorf("upload url: incomplete response")
	}
	return &resp, nil
}

// ConfirmUpload はアップロード済みのオブジェクトを次の画像として登録する。
func (c *Client) ConfirmUpload(ctx context.Context, key string) (*ImageResult, error) {
	var resp ImageResult
	err := c.Request(ctx, "/profile/images/confirm", RequestOptions{
		Method:       http.MethodPost,
		Body:         map[string]string{"key": key},
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDownloadURL はオブジェクトキーの署名付きダウンロードURLを返す。
func (c *Client) GetDownloadURL(ctx context.Context, key string) (string, error) {
	var resp struct {
		DownloadURL string `json:"download_url"`
	}
	endpoint := "/profile/download-url?key=" + url.QueryEscape(key)
	if err := c.Request(ctx, endpoint, RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return "", err
	}
	return resp.DownloadURL, nil
}

// DeleteImage は画像を削除する。
func (c *Client) DeleteImage(ctx context.Context, imageID string) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.Request(ctx, "/profile/images/"+url.PathEscape(imageID), RequestOptions{
		Method:       http.MethodDelete,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinalizeProfile はプロフィールを確定する。
// 未完了の項目がある場合はPendingActionsを持つ*Errorを返す。
func (c *Client) FinalizeProfile(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.Request(ctx, "/profile/finalize", RequestOptions{
		Method:       http.MethodPost,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAccount はアカウントを削除する。
func (c *Client) DeleteAccount(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.Request(ctx, "/profile", RequestOptions{
		Method:       http.MethodDelete,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- プロンプト ---

// GetPrompts は自分のプロンプトを表示順で返す。
func (c *Client) GetPrompts(ctx context.Context) ([]UserPrompt, error) {
	var resp []UserPrompt
	if err := c.Request(ctx, "/prompts", RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreatePrompt はプロンプトを追加する。minAnswerLenは回答の最小文字数。
func (c *Client) CreatePrompt(ctx context.Context, question, answer string, minAnswerLen int) (*PromptResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &validate.Error{Field: "question", Message: "Please choose a prompt"}
	}
	if err := validate.PromptAnswer(answer, minAnswerLen); err != nil {
		return nil, err
	}
	var resp PromptResult
	err := c.Request(ctx, "/prompts", RequestOptions{
		Method:       http.MethodPost,
		Body:         map[string]string{"question": question, "answer": answer},
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdatePrompt は表示順orderのプロンプトを更新する。
func (c *Client) UpdatePrompt(ctx context.Context, order int, question, answer string, minAnswerLen int) (*StatusResponse, error) {
	if err := validate.PromptAnswer(answer, minAnswerLen); err != nil {
		return nil, err
	}
	var resp StatusResponse
	err := c.Request(ctx, "/prompts/"+strconv.Itoa(order), RequestOptions{
		Method:       http.MethodPut,
		Body:         map[string]string{"question": question, "answer": answer},
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeletePrompt は表示順orderのプロンプトを削除する。
func (c *Client) DeletePrompt(ctx context.Context, order int) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.Request(ctx, "/prompts/"+strconv.Itoa(order), RequestOptions{
		Method:       http.MethodDelete,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- フィードと操作 ---

// GetFeed は候補プロフィールを返す。
func (c *Client) GetFeed(ctx context.Context) (*FeedResponse, error) {
	var resp FeedResponse
	if err := c.Request(ctx, "/feed", RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Interact はLIKEまたはPASSを送る。応答のstatusはMATCHまたはSENTのみ受け付ける。
func (c *Client) Interact(ctx context.Context, req InteractRequest) (*InteractResponse, error) {
	if req.Action != ActionLike && req.Action != ActionPass {
		return nil, &validate.Error{Field: "action", Message: "Action must be LIKE or PASS"}
	}
	if req.TargetUserID == "" {
		return nil, &validate.Error{Field: "target_user_id", Message: "Target user is required"}
	}
	var resp InteractResponse
	err := c.Request(ctx, "/interact", RequestOptions{
		Method:       http.MethodPost,
		Body:         req,
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status != InteractMatch && resp.Status != InteractSent {
		return nil, fmt.Errorf("interact: unexpected status %q", resp.Status)
	}
	return &resp, nil
}

// GetLikes は受信したLIKEを返す。
func (c *Client) GetLikes(ctx context.Context) ([]Like, error) {
	var resp []Like
	if err := c.Request(ctx, "/likes", RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- マッチとメッセージ ---

// GetMatches はマッチ一覧を返す。
func (c *Client) GetMatches(ctx context.Context) ([]MatchSummary, error) {
	var resp []MatchSummary
	if err := c.Request(ctx, "/matches", RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetMessages はマッチ内のメッセージ履歴を返す。limitが0の場合はサーバーの既定値。
func (c *Client) GetMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	endpoint := "/matches/" + url.PathEscape(matchID) + "/messages"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.Request(ctx, endpoint, RequestOptions{RequiresAuth: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage はマッチ内にメッセージを送る。
func (c *Client) SendMessage(ctx context.Context, matchID, text string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &validate.Error{Field: "text", Message: "Message must not be empty"}
	}
	var resp Message
	err := c.Request(ctx, "/matches/"+url.PathEscape(matchID)+"/messages", RequestOptions{
		Method:       http.MethodPost,
		Body:         map[string]string{"text": text},
		RequiresAuth: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
