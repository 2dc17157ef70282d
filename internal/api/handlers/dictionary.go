package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/claimguard-jp/claimguard/internal/api"
	"github.com/claimguard-jp/claimguard/internal/api/middleware"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/go-chi/chi/v5"
)

type DictionaryService interface {
	Create(ctx context.Context, input service.CreateEntryInput) (*domain.DictionaryEntry, error)
	Get(ctx context.Context, id string) (*domain.DictionaryEntry, error)
	List(ctx context.Context, orgID string) ([]*domain.DictionaryEntry, error)
	Update(ctx context.Context, id string, input service.UpdateEntryInput) (*domain.DictionaryEntry, error)
	Delete(ctx context.Context, id string) error
}

type EmbeddingJobQueue interface {
	EnqueueOrganization(ctx context.Context, orgID string, entryIDs []string) (*domain.EmbeddingJob, error)
	GetJob(id string) (*domain.EmbeddingJob, error)
}

type DictionaryHandler struct {
	svc  DictionaryService
	jobs EmbeddingJobQueue
}

func NewDictionaryHandler(svc DictionaryService, jobs EmbeddingJobQueue) *DictionaryHandler {
	return &DictionaryHandler{svc: svc, jobs: jobs}
}

type DictionaryEntryRequest struct {
	Phrase   string `json:"phrase"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

type DictionaryEntryResponse struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	Phrase       string `json:"phrase"`
	Category     string `json:"category"`
	Notes        string `json:"notes,omitempty"`
	HasEmbedding bool   `json:"has_embedding"`
	CreatedAt    string `json:"created_at"`
}

func entryToResponse(e *domain.DictionaryEntry) *DictionaryEntryResponse {
	return &DictionaryEntryResponse{
		ID:           e.ID,
		OrgID:        e.OrgID,
		Phrase:       e.Phrase,
		Category:     string(e.Category),
		Notes:        e.Notes,
		HasEmbedding: e.Embedding != nil,
		CreatedAt:    e.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// requireAdmin resolves the authenticated user and enforces the admin
// role for dictionary edits.
func requireAdmin(w http.ResponseWriter, r *http.Request) *domain.User {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	if user.Role != domain.UserRoleAdmin {
		api.Error(w, http.StatusForbidden, "admin role required")
		return nil
	}
	return user
}

func (h *DictionaryHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := requireAdmin(w, r)
	if user == nil {
		return
	}

	var req DictionaryEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phrase == "" {
		api.Error(w, http.StatusBadRequest, "phrase is required")
		return
	}

	entry, err := h.svc.Create(r.Context(), service.CreateEntryInput{
		OrgID:    user.OrgID,
		Phrase:   req.Phrase,
		Category: domain.PhraseCategory(req.Category),
		Notes:    req.Notes,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, entryToResponse(entry))
}

func (h *DictionaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entry, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if entry.OrgID != user.OrgID {
		api.HandleError(w, domain.ErrDictionaryEntryNotFound)
		return
	}

	api.Success(w, http.StatusOK, entryToResponse(entry))
}

func (h *DictionaryHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entries, err := h.svc.List(r.Context(), user.OrgID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*DictionaryEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, entryToResponse(e))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *DictionaryHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := requireAdmin(w, r)
	if user == nil {
		return
	}

	id := chi.URLParam(r, "id")
	existing, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if existing.OrgID != user.OrgID {
		api.HandleError(w, domain.ErrDictionaryEntryNotFound)
		return
	}

	var req DictionaryEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.svc.Update(r.Context(), id, service.UpdateEntryInput{
		Phrase:   req.Phrase,
		Category: domain.PhraseCategory(req.Category),
		Notes:    req.Notes,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, entryToResponse(entry))
}

func (h *DictionaryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := requireAdmin(w, r)
	if user == nil {
		return
	}

	id := chi.URLParam(r, "id")
	existing, err := h.svc.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if existing.OrgID != user.OrgID {
		api.HandleError(w, domain.ErrDictionaryEntryNotFound)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusNoContent, nil)
}

type EnqueueEmbeddingJobRequest struct {
	EntryIDs []string `json:"entry_ids,omitempty"`
}

type EmbeddingJobResponse struct {
	ID        string                     `json:"id"`
	OrgID     string                     `json:"org_id"`
	Status    string                     `json:"status"`
	Total     int                        `json:"total"`
	Processed int                        `json:"processed"`
	Failures  []EmbeddingFailureResponse `json:"failures,omitempty"`
	CreatedAt string                     `json:"created_at"`
}

type EmbeddingFailureResponse struct {
	EntryID string `json:"entry_id"`
	Phrase  string `json:"phrase"`
	Error   string `json:"error"`
}

func jobToResponse(j *domain.EmbeddingJob) *EmbeddingJobResponse {
	resp := &EmbeddingJobResponse{
		ID:        j.ID,
		OrgID:     j.OrgID,
		Status:    string(j.Status),
		Total:     j.Total,
		Processed: j.Processed,
		CreatedAt: j.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	for _, f := range j.Failures {
		resp.Failures = append(resp.Failures, EmbeddingFailureResponse{
			EntryID: f.EntryID,
			Phrase:  f.Phrase,
			Error:   f.Error,
		})
	}
	return resp
}

func (h *DictionaryHandler) EnqueueEmbeddingJob(w http.ResponseWriter, r *http.Request) {
	user := requireAdmin(w, r)
	if user == nil {
		return
	}

	var req EnqueueEmbeddingJobRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	job, err := h.jobs.EnqueueOrganization(r.Context(), user.OrgID, req.EntryIDs)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

func (h *DictionaryHandler) GetEmbeddingJob(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	job, err := h.jobs.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if job.OrgID != user.OrgID {
		api.HandleError(w, domain.ErrEmbeddingJobNotFound)
		return
	}

	api.Success(w, http.StatusOK, jobToResponse(job))
}
