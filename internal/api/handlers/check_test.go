package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claimguard-jp/claimguard/internal/api/middleware"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/queue"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

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

func newTestHandlerCheck(status domain.CheckStatus) *domain.Check {
	return &domain.Check{
		ID:           "chk-123",
		OrgID:        "org-456",
		UserID:       "user-789",
		Status:       status,
		InputType:    domain.InputTypeText,
		OriginalText: "このサプリで必ず痩せる",
		CreatedAt:    time.Now().UTC(),
	}
}

func requestWithUser(method, url string, body []byte, role domain.UserRole) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	user := &domain.User{ID: "user-789", OrgID: "org-456", Role: role}
	ctx := context.WithValue(req.Context(), middleware.UserKey, user)
	ctx = context.WithValue(ctx, middleware.OrgIDKey, user.OrgID)
	return req.WithContext(ctx)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestCheckHandler_Submit_Success(t *testing.T) {
	mockSvc := new(MockCheckService)
	handler := NewCheckHandler(mockSvc, new(MockViolationLister))

	mockSvc.On("Submit", mock.Anything, mock.MatchedBy(func(input service.SubmitCheckInput) bool {
		return input.OrgID == "org-456" && input.Text == "このサプリで必ず痩せる" && input.InputType == domain.InputTypeText
	})).Return(newTestHandlerCheck(domain.CheckStatusQueued), 2, nil)

	body := `{"text":"このサプリで必ず痩せる"}`
	req := requestWithUser(http.MethodPost, "/checks", []byte(body), domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.Submit(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "chk-123", data["id"])
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, float64(2), data["queue_position"])
	mockSvc.AssertExpectations(t)
}

func TestCheckHandler_Submit_Unauthorized(t *testing.T) {
	handler := NewCheckHandler(new(MockCheckService), new(MockViolationLister))

	req := httptest.NewRequest(http.MethodPost, "/checks", bytes.NewReader([]byte(`{"text":"x"}`)))
	w := httptest.NewRecorder()

	handler.Submit(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckHandler_Submit_MissingText(t *testing.T) {
	handler := NewCheckHandler(new(MockCheckService), new(MockViolationLister))

	req := requestWithUser(http.MethodPost, "/checks", []byte(`{}`), domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.Submit(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "text is required")
}

func TestCheckHandler_Submit_ImageRequiresExtractedText(t *testing.T) {
	handler := NewCheckHandler(new(MockCheckService), new(MockViolationLister))

	body := `{"input_type":"image","image":"aGVsbG8="}`
	req := requestWithUser(http.MethodPost, "/checks", []byte(body), domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.Submit(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "extracted_text is required")
}

func TestCheckHandler_Submit_BadBase64Image(t *testing.T) {
	handler := NewCheckHandler(new(MockCheckService), new(MockViolationLister))

	body := `{"input_type":"image","extracted_text":"抽出文","image":"%%%"}`
	req := requestWithUser(http.MethodPost, "/checks", []byte(body), domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.Submit(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "base64")
}

func TestCheckHandler_Get_IncludesViolationsWhenCompleted(t *testing.T) {
	mockSvc := new(MockCheckService)
	mockViolations := new(MockViolationLister)
	handler := NewCheckHandler(mockSvc, mockViolations)

	check := newTestHandlerCheck(domain.CheckStatusCompleted)
	modified := "このサプリをぜひお試しください"
	check.ModifiedText = &modified
	dictID := "dict-1"
	mockSvc.On("Get", mock.Anything, "chk-123", mock.Anything).Return(check, nil)
	mockViolations.On("ListByCheck", mock.Anything, "chk-123").Return([]*domain.Violation{
		{ID: "v-1", CheckID: "chk-123", StartPos: 5, EndPos: 10, Reason: "断定的表現", DictionaryID: &dictID},
	}, nil)

	req := withURLParam(requestWithUser(http.MethodGet, "/checks/chk-123", nil, domain.UserRoleMember), "id", "chk-123")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	violations := data["violations"].([]interface{})
	require.Len(t, violations, 1)
	first := violations[0].(map[string]interface{})
	assert.Equal(t, float64(5), first["start_pos"])
	assert.Equal(t, "dict-1", first["dictionary_id"])
}

func TestCheckHandler_Get_AccessDenied(t *testing.T) {
	mockSvc := new(MockCheckService)
	handler := NewCheckHandler(mockSvc, new(MockViolationLister))

	mockSvc.On("Get", mock.Anything, "chk-123", mock.Anything).Return(nil, domain.ErrCheckAccessDenied)

	req := withURLParam(requestWithUser(http.MethodGet, "/checks/chk-123", nil, domain.UserRoleMember), "id", "chk-123")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCheckHandler_List_LimitValidation(t *testing.T) {
	handler := NewCheckHandler(new(MockCheckService), new(MockViolationLister))

	req := requestWithUser(http.MethodGet, "/checks?limit=500", nil, domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckHandler_List_Success(t *testing.T) {
	mockSvc := new(MockCheckService)
	handler := NewCheckHandler(mockSvc, new(MockViolationLister))

	mockSvc.On("List", mock.Anything, mock.Anything, "", 20).Return(&service.CheckPage{
		Checks:     []*domain.Check{newTestHandlerCheck(domain.CheckStatusCompleted)},
		NextCursor: "abc",
		HasMore:    true,
	}, nil)

	req := requestWithUser(http.MethodGet, "/checks", nil, domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, true, data["has_more"])
	assert.Equal(t, "abc", data["next_cursor"])
}

func TestCheckHandler_Cancel_NotCancellable(t *testing.T) {
	mockSvc := new(MockCheckService)
	handler := NewCheckHandler(mockSvc, new(MockViolationLister))

	mockSvc.On("Cancel", mock.Anything, "chk-123", mock.Anything).Return(nil, domain.ErrCheckNotCancellable)

	req := withURLParam(requestWithUser(http.MethodPost, "/checks/chk-123/cancel", nil, domain.UserRoleMember), "id", "chk-123")
	w := httptest.NewRecorder()

	handler.Cancel(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckHandler_QueueStatus(t *testing.T) {
	mockSvc := new(MockCheckService)
	handler := NewCheckHandler(mockSvc, new(MockViolationLister))

	mockSvc.On("QueueStatus").Return(queue.QueueStatus{QueueLength: 4, ProcessingCount: 3, MaxConcurrent: 3})

	req := requestWithUser(http.MethodGet, "/queue/status", nil, domain.UserRoleMember)
	w := httptest.NewRecorder()

	handler.QueueStatus(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(4), data["queue_length"])
	assert.Equal(t, float64(3), data["processing_count"])
}

func TestCheckHandler_Image(t *testing.T) {
	mockSvc := new(MockCheckService)
	handler := NewCheckHandler(mockSvc, new(MockViolationLister))

	mockSvc.On("ImageURL", mock.Anything, "chk-123", mock.Anything).
		Return("https://storage.example/checks/chk-123/source", nil)

	req := withURLParam(requestWithUser(http.MethodGet, "/checks/chk-123/image", nil, domain.UserRoleMember), "id", "chk-123")
	w := httptest.NewRecorder()

	handler.Image(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "https://storage.example/checks/chk-123/source", data["url"])
}
