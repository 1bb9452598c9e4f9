package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kindred/internal/interaction"
	"github.com/hitoshi/kindred/internal/middleware"
	"github.com/hitoshi/kindred/internal/model"
)

// InteractionServiceInterface はLIKE/PASS、マッチ、メッセージのハンドラーが必要とするサービスインターフェース。
type InteractionServiceInterface interface {
	Interact(ctx context.Context, fromUserID string, req interaction.InteractRequest) (*interaction.InteractResult, error)
	ReceivedLikes(ctx context.Context, userID string) ([]model.Interaction, error)
	Matches(ctx context.Context, userID string) ([]model.MatchSummary, error)
	Messages(ctx context.Context, userID, matchID string, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, userID, matchID, text string) (*model.Message, error)
}

// compile-time interface check
var _ InteractionServiceInterface = (*interaction.Service)(nil)

// InteractionHandler はLIKE/PASS、マッチ、メッセージのHTTPハンドラー。
type InteractionHandler struct {
	service InteractionServiceInterface
}

// NewInteractionHandler はInteractionHandlerを生成する。
func NewInteractionHandler(service InteractionServiceInterface) *InteractionHandler {
	return &InteractionHandler{service: service}
}

type interactRequest struct {
	TargetUserID string       `json:"target_user_id"`
	Action       string       `json:"action"`
	Context      *contextJSON `json:"context,omitempty"`
	Comment      *string      `json:"comment,omitempty"`
}

type interactResponse struct {
	Status  string `json:"status"`
	MatchID string `json:"match_id,omitempty"`
}

type messagesResponse struct {
	Messages []messageJSON `json:"messages"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// Interact はLIKEまたはPASSを記録する。
// POST /api/v1/interact
func (h *InteractionHandler) Interact(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req interactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := interaction.InteractRequest{
		TargetUserID: req.TargetUserID,
		Action:       req.Action,
		Comment:      req.Comment,
	}
	if req.Context != nil {
		in.Context = &model.InteractionContext{Type: req.Context.Type, ID: req.Context.ID}
	}

	result, err := h.service.Interact(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, interactResponse{Status: result.Status, MatchID: result.MatchID})
}

// Likes は自分宛のLIKEを返す。
// GET /api/v1/likes
func (h *InteractionHandler) Likes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	likes, err := h.service.ReceivedLikes(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]interactionJSON, len(likes))
	for i, l := range likes {
		resp[i] = toInteractionJSON(l)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Matches はマッチ一覧を返す。
// GET /api/v1/matches
func (h *InteractionHandler) Matches(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summaries, err := h.service.Matches(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]matchSummaryJSON, len(summaries))
	for i, s := range summaries {
		resp[i] = toMatchSummaryJSON(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Messages はマッチ内のメッセージ履歴を返す。
// GET /api/v1/matches/{id}/messages?limit=
func (h *InteractionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("Invalid limit"))
			return
		}
		limit = n
	}

	msgs, err := h.service.Messages(r.Context(), userID, chi.URLParam(r, "id"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := messagesResponse{Messages: make([]messageJSON, len(msgs))}
	for i, m := range msgs {
		resp.Messages[i] = toMessageJSON(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendMessage はマッチ内にメッセージを送信する。
// POST /api/v1/matches/{id}/messages
func (h *InteractionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.SendMessage(r.Context(), userID, chi.URLParam(r, "id"), req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageJSON(*msg))
}
