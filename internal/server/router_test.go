package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claimguard-jp/claimguard/internal/api/handlers"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/queue"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type MockCheckService struct {
	mock.Mock
}

func (m *MockCheckService) Submit(ctx context.Context, input service.SubmitCheckInput) (*domain.Check, int, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*domain.Check), args.Int(1), args.Error(2)
}

func (m *MockCheckService) Get(ctx context.Context, id string, user *domain.User) (*domain.Check, error) {
	args := m.Called(ctx, id, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Check), args.Error(1)
}

func (m *MockCheckService) List(ctx context.Context, user *domain.User, cursor string, limit int) (*service.CheckPage, error) {
	args := m.Called(ctx, user, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CheckPage), args.Error(1)
}

func (m *MockCheckService) ImageURL(ctx context.Context, id string, user *domain.User) (string, error) {
	args := m.Called(ctx, id, user)
	return args.String(0), args.Error(1)
}

func (m *MockCheckService) Cancel(ctx context.Context, id string, user *domain.User) (*domain.Check, error) {
	args := m.Called(ctx, id, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Check), args.Error(1)
}

func (m *MockCheckService) Delete(ctx context.Context, id string, user *domain.User) error {
	args := m.Called(ctx, id, user)
	return args.Error(0)
}

func (m *MockCheckService) QueueStatus() queue.QueueStatus {
	args := m.Called()
	return args.Get(0).(queue.QueueStatus)
}

type MockViolationLister struct {
	mock.Mock
}

func (m *MockViolationLister) ListByCheck(ctx context.Context, checkID string) ([]*domain.Violation, error) {
	args := m.Called(ctx, checkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Violation), args.Error(1)
}

type MockDictionaryService struct {
	mock.Mock
}

func (m *MockDictionaryService) Create(ctx context.Context, input service.CreateEntryInput) (*domain.DictionaryEntry, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DictionaryEntry), args.Error(1)
}

func (m *MockDictionaryService) Get(ctx context.Context, id string) (*domain.DictionaryEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DictionaryEntry), args.Error(1)
}

func (m *MockDictionaryService) List(ctx context.Context, orgID string) ([]*domain.DictionaryEntry, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DictionaryEntry), args.Error(1)
}

func (m *MockDictionaryService) Update(ctx context.Context, id string, input service.UpdateEntryInput) (*domain.DictionaryEntry, error) {
	args := m.Called(ctx, id, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DictionaryEntry), args.Error(1)
}

func (m *MockDictionaryService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockEmbeddingJobQueue struct {
	mock.Mock
}

func (m *MockEmbeddingJobQueue) EnqueueOrganization(ctx context.Context, orgID string, entryIDs []string) (*domain.EmbeddingJob, error) {
	args := m.Called(ctx, orgID, entryIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmbeddingJob), args.Error(1)
}

func (m *MockEmbeddingJobQueue) GetJob(id string) (*domain.EmbeddingJob, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmbeddingJob), args.Error(1)
}

type routerMocks struct {
	validator  *MockTokenValidator
	checks     *MockCheckService
	violations *MockViolationLister
	dict       *MockDictionaryService
	jobs       *MockEmbeddingJobQueue
}

func newTestRouter() (http.Handler, *routerMocks) {
	m := &routerMocks{
		validator:  new(MockTokenValidator),
		checks:     new(MockCheckService),
		violations: new(MockViolationLister),
		dict:       new(MockDictionaryService),
		jobs:       new(MockEmbeddingJobQueue),
	}
	broker := handlers.NewStreamHandler(nil)
	router := NewRouter(RouterConfig{
		TokenValidator:    m.validator,
		CheckHandler:      handlers.NewCheckHandler(m.checks, m.violations),
		StreamHandler:     broker,
		DictionaryHandler: handlers.NewDictionaryHandler(m.dict, m.jobs),
	})
	return router, m
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRouter_ChecksRequireAuth(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/checks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_SubmitCheckThroughAuth(t *testing.T) {
	router, m := newTestRouter()

	user := &domain.User{ID: "user-1", OrgID: "org-1", Role: domain.UserRoleMember}
	m.validator.On("ValidateToken", mock.Anything, "cgd_token").Return(user, nil)
	m.checks.On("Submit", mock.Anything, mock.MatchedBy(func(input service.SubmitCheckInput) bool {
		return input.OrgID == "org-1" && input.UserID == "user-1"
	})).Return(&domain.Check{
		ID:           "chk-1",
		OrgID:        "org-1",
		UserID:       "user-1",
		Status:       domain.CheckStatusQueued,
		InputType:    domain.InputTypeText,
		OriginalText: "広告文",
		CreatedAt:    time.Now().UTC(),
	}, 0, nil)

	req := httptest.NewRequest(http.MethodPost, "/checks", strings.NewReader(`{"text":"広告文"}`))
	req.Header.Set("Authorization", "Bearer cgd_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "chk-1", data["id"])
}

func TestRouter_QueueStatusRoute(t *testing.T) {
	router, m := newTestRouter()

	user := &domain.User{ID: "user-1", OrgID: "org-1", Role: domain.UserRoleMember}
	m.validator.On("ValidateToken", mock.Anything, "cgd_token").Return(user, nil)
	m.checks.On("QueueStatus").Return(queue.QueueStatus{MaxConcurrent: 3})

	req := httptest.NewRequest(http.MethodGet, "/queue/status", nil)
	req.Header.Set("Authorization", "Bearer cgd_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "max_concurrent")
}

func TestRouter_DictionaryCreateRequiresAdmin(t *testing.T) {
	router, m := newTestRouter()

	member := &domain.User{ID: "user-1", OrgID: "org-1", Role: domain.UserRoleMember}
	m.validator.On("ValidateToken", mock.Anything, "cgd_token").Return(member, nil)

	req := httptest.NewRequest(http.MethodPost, "/dictionary", strings.NewReader(`{"phrase":"必ず治る","category":"NG"}`))
	req.Header.Set("Authorization", "Bearer cgd_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_EmbeddingJobRoutes(t *testing.T) {
	router, m := newTestRouter()

	admin := &domain.User{ID: "user-9", OrgID: "org-1", Role: domain.UserRoleAdmin}
	m.validator.On("ValidateToken", mock.Anything, "cgd_token").Return(admin, nil)
	m.jobs.On("EnqueueOrganization", mock.Anything, "org-1", []string(nil)).Return(&domain.EmbeddingJob{
		ID:        "job-1",
		OrgID:     "org-1",
		Status:    domain.EmbeddingJobStatusQueued,
		Total:     12,
		CreatedAt: time.Now().UTC(),
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/dictionary/embedding-jobs", nil)
	req.Header.Set("Authorization", "Bearer cgd_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "job-1")
}
