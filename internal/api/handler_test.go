package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/errors"
	"collab-sync-server/internal/middleware"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) DocumentState(ctx context.Context, docID uint64) ([]byte, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockService) CreateDocument(ctx context.Context, ownerID uint64, title string) (*domain.DocumentMetadata, error) {
	args := m.Called(ctx, ownerID, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentMetadata), args.Error(1)
}

func (m *MockService) UpdatePermission(ctx context.Context, docID uint64, userID uint64, email string, role domain.Role) error {
	args := m.Called(ctx, docID, userID, email, role)
	return args.Error(0)
}

func (m *MockService) RemoveDocument(ctx context.Context, docID uint64) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

func (m *MockService) ActiveConnections(ctx context.Context, docID uint64) int64 {
	args := m.Called(ctx, docID)
	return args.Get(0).(int64)
}

func setupRouter(service Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandler(zerolog.Nop()))

	handler := NewHandler(service)
	internal := router.Group("/internal")
	{
		internal.POST("/documents", handler.CreateDocument)
		internal.GET("/documents/:id/state", handler.ShowDocumentState)
		internal.PUT("/documents/:id/permission", handler.UpdatePermission)
		internal.GET("/documents/:id/active", handler.ShowActiveConnections)
		internal.DELETE("/documents/:id", handler.RemoveDocument)
	}
	return router
}

func performRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestShowDocumentState(t *testing.T) {
	service := new(MockService)
	service.On("DocumentState", mock.Anything, uint64(1)).Return([]byte("replica-state"), nil)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodGet, "/internal/documents/1/state", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response StateResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	decoded, err := base64.StdEncoding.DecodeString(response.Binary)
	require.NoError(t, err)
	assert.Equal(t, []byte("replica-state"), decoded)
	service.AssertExpectations(t)
}

func TestShowDocumentStateNotFound(t *testing.T) {
	service := new(MockService)
	service.On("DocumentState", mock.Anything, uint64(9)).
		Return(nil, errors.NotFound("Document not found", nil))
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodGet, "/internal/documents/9/state", nil)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Document not found")
}

func TestShowDocumentStateInvalidID(t *testing.T) {
	service := new(MockService)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodGet, "/internal/documents/abc/state", nil)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	service.AssertNotCalled(t, "DocumentState")
}

func TestCreateDocument(t *testing.T) {
	service := new(MockService)
	service.On("CreateDocument", mock.Anything, uint64(7), "Notes").
		Return(&domain.DocumentMetadata{ID: 3, Title: "Notes", OwnerID: 7}, nil)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodPost, "/internal/documents", gin.H{
		"owner_id": 7,
		"title":    "Notes",
	})

	require.Equal(t, http.StatusCreated, recorder.Code)
	var meta domain.DocumentMetadata
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &meta))
	assert.Equal(t, uint64(3), meta.ID)
	service.AssertExpectations(t)
}

func TestCreateDocumentMissingOwner(t *testing.T) {
	service := new(MockService)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodPost, "/internal/documents", gin.H{
		"title": "Orphan",
	})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	service.AssertNotCalled(t, "CreateDocument")
}

func TestUpdatePermission(t *testing.T) {
	service := new(MockService)
	service.On("UpdatePermission", mock.Anything, uint64(1), uint64(20), "ada@example.com", domain.RoleEditor).
		Return(nil)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodPut, "/internal/documents/1/permission", gin.H{
		"user_id": 20,
		"email":   "ada@example.com",
		"role":    "editor",
	})

	assert.Equal(t, http.StatusOK, recorder.Code)
	service.AssertExpectations(t)
}

func TestUpdatePermissionRevoke(t *testing.T) {
	service := new(MockService)
	service.On("UpdatePermission", mock.Anything, uint64(1), uint64(20), "", domain.RoleNone).
		Return(nil)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodPut, "/internal/documents/1/permission", gin.H{
		"user_id": 20,
		"role":    "none",
	})

	assert.Equal(t, http.StatusOK, recorder.Code)
	service.AssertExpectations(t)
}

func TestUpdatePermissionUnknownRole(t *testing.T) {
	service := new(MockService)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodPut, "/internal/documents/1/permission", gin.H{
		"user_id": 20,
		"role":    "admin",
	})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	service.AssertNotCalled(t, "UpdatePermission")
}

func TestUpdatePermissionDocumentNotFound(t *testing.T) {
	service := new(MockService)
	service.On("UpdatePermission", mock.Anything, uint64(99), uint64(20), "", domain.RoleViewer).
		Return(errors.NotFound("Document not found", nil))
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodPut, "/internal/documents/99/permission", gin.H{
		"user_id": 20,
		"role":    "viewer",
	})

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRemoveDocument(t *testing.T) {
	service := new(MockService)
	service.On("RemoveDocument", mock.Anything, uint64(4)).Return(nil)
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodDelete, "/internal/documents/4", nil)

	assert.Equal(t, http.StatusOK, recorder.Code)
	service.AssertExpectations(t)
}

func TestShowActiveConnections(t *testing.T) {
	service := new(MockService)
	service.On("ActiveConnections", mock.Anything, uint64(5)).Return(int64(3))
	router := setupRouter(service)

	recorder := performRequest(router, http.MethodGet, "/internal/documents/5/active", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var response struct {
		DocumentID uint64 `json:"document_id"`
		Active     int64  `json:"active"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, uint64(5), response.DocumentID)
	assert.Equal(t, int64(3), response.Active)
}
