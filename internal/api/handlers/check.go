package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/claimguard-jp/claimguard/internal/api"
	"github.com/claimguard-jp/claimguard/internal/api/middleware"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/queue"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/go-chi/chi/v5"
)

type CheckService interface {
	Submit(ctx context.Context, input service.SubmitCheckInput) (*domain.Check, int, error)
	Get(ctx context.Context, id string, user *domain.User) (*domain.Check, error)
	List(ctx context.Context, user *domain.User, cursor string, limit int) (*service.CheckPage, error)
	ImageURL(ctx context.Context, id string, user *domain.User) (string, error)
	Cancel(ctx context.Context, id string, user *domain.User) (*domain.Check, error)
	Delete(ctx context.Context, id string, user *domain.User) error
	QueueStatus() queue.QueueStatus
}

type ViolationLister interface {
	ListByCheck(ctx context.Context, checkID string) ([]*domain.Violation, error)
}

type CheckHandler struct {
	svc        CheckService
	violations ViolationLister
}

func NewCheckHandler(svc CheckService, violations ViolationLister) *CheckHandler {
	return &CheckHandler{svc: svc, violations: violations}
}

type SubmitCheckRequest struct {
	Text          string `json:"text"`
	InputType     string `json:"input_type"`
	Image         string `json:"image,omitempty"`
	ImageType     string `json:"image_type,omitempty"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

type ViolationResponse struct {
	ID           string  `json:"id"`
	StartPos     int     `json:"start_pos"`
	EndPos       int     `json:"end_pos"`
	Reason       string  `json:"reason"`
	DictionaryID *string `json:"dictionary_id,omitempty"`
}

type CheckResponse struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	InputType     string              `json:"input_type"`
	OriginalText  string              `json:"original_text"`
	ExtractedText string              `json:"extracted_text,omitempty"`
	ModifiedText  *string             `json:"modified_text,omitempty"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	QueuePosition int                 `json:"queue_position,omitempty"`
	Violations    []ViolationResponse `json:"violations,omitempty"`
	CreatedAt     string              `json:"created_at"`
	CompletedAt   string              `json:"completed_at,omitempty"`
}

func checkToResponse(c *domain.Check) *CheckResponse {
	resp := &CheckResponse{
		ID:            c.ID,
		Status:        string(c.Status),
		InputType:     string(c.InputType),
		OriginalText:  c.OriginalText,
		ExtractedText: c.ExtractedText,
		ModifiedText:  c.ModifiedText,
		ErrorMessage:  c.ErrorMessage,
		CreatedAt:     c.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if c.CompletedAt != nil {
		resp.CompletedAt = c.CompletedAt.Format("2006-01-02T15:04:05Z")
	}
	return resp
}

func violationsToResponse(violations []*domain.Violation) []ViolationResponse {
	out := make([]ViolationResponse, 0, len(violations))
	for _, v := range violations {
		out = append(out, ViolationResponse{
			ID:           v.ID,
			StartPos:     v.StartPos,
			EndPos:       v.EndPos,
			Reason:       v.Reason,
			DictionaryID: v.DictionaryID,
		})
	}
	return out
}

func (h *CheckHandler) Submit(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inputType := domain.InputTypeText
	if req.InputType != "" {
		inputType = domain.InputType(req.InputType)
	}

	input := service.SubmitCheckInput{
		OrgID:     user.OrgID,
		UserID:    user.ID,
		InputType: inputType,
	}

	switch inputType {
	case domain.InputTypeText:
		if req.Text == "" {
			api.Error(w, http.StatusBadRequest, "text is required")
			return
		}
		input.Text = req.Text
	case domain.InputTypeImage:
		if req.ExtractedText == "" {
			api.Error(w, http.StatusBadRequest, "extracted_text is required for image input")
			return
		}
		input.ExtractedText = req.ExtractedText
		input.ImageContentType = req.ImageType
		if req.Image != "" {
			data, err := base64.StdEncoding.DecodeString(req.Image)
			if err != nil {
				api.Error(w, http.StatusBadRequest, "image must be base64 encoded")
				return
			}
			input.ImageData = data
		}
	default:
		api.Error(w, http.StatusBadRequest, "invalid input type")
		return
	}

	check, position, err := h.svc.Submit(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := checkToResponse(check)
	resp.QueuePosition = position
	api.Success(w, http.StatusAccepted, resp)
}

func (h *CheckHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	check, err := h.svc.Get(r.Context(), id, user)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := checkToResponse(check)
	if check.Status == domain.CheckStatusCompleted {
		violations, err := h.violations.ListByCheck(r.Context(), check.ID)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		resp.Violations = violationsToResponse(violations)
	}

	api.Success(w, http.StatusOK, resp)
}

type ImageURLResponse struct {
	URL string `json:"url"`
}

// Image returns a short-lived download URL for the archived source
// image of an image-input check.
func (h *CheckHandler) Image(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	url, err := h.svc.ImageURL(r.Context(), id, user)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ImageURLResponse{URL: url})
}

type CheckListResponse struct {
	Items      []*CheckResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

func (h *CheckHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			api.Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	page, err := h.svc.List(r.Context(), user, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := CheckListResponse{
		Items:      make([]*CheckResponse, 0, len(page.Checks)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, c := range page.Checks {
		resp.Items = append(resp.Items, checkToResponse(c))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *CheckHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	check, err := h.svc.Cancel(r.Context(), id, user)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, checkToResponse(check))
}

func (h *CheckHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), id, user); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

type QueueStatusResponse struct {
	QueueLength     int `json:"queue_length"`
	ProcessingCount int `json:"processing_count"`
	MaxConcurrent   int `json:"max_concurrent"`
}

func (h *CheckHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status := h.svc.QueueStatus()
	api.Success(w, http.StatusOK, QueueStatusResponse{
		QueueLength:     status.QueueLength,
		ProcessingCount: status.ProcessingCount,
		MaxConcurrent:   status.MaxConcurrent,
	})
}
