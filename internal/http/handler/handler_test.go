package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"coachdocs/internal/blob"
	"coachdocs/internal/logging"
	"coachdocs/internal/model"
	"coachdocs/internal/repository"
	repoMocks "coachdocs/internal/repository/mocks"
	"coachdocs/internal/service"
	serviceMocks "coachdocs/internal/service/mocks"
	"coachdocs/internal/storage"
	storageMocks "coachdocs/internal/storage/mocks"
	"coachdocs/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, resp *http.Response) errorPayload {
	t.Helper()
	var body errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	m := store.NewManager(func(ctx context.Context) (*store.Conn, error) {
		return &store.Conn{DB: db, Version: 2}, nil
	}, logging.Discard())

	app := fiber.New()
	app.Get("/health", HealthCheck(m))

	t.Run("not opened yet", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})

	_, err = m.Initialize(context.Background())
	require.NoError(t, err)

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "open", body["store"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, resp).Error.Code)
	})

	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/documents", UploadDocument(mockSvc))

	post := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, _ := app.Test(req)
		return resp
	}

	t.Run("success", func(t *testing.T) {
		in := &model.Document{ID: "1", CoacheeID: "10", Name: "Agreement", Type: model.TypeContract}
		mockSvc.On("Upload", mock.Anything, in).Return(&model.Document{ID: "1", CoacheeID: "10", Name: "Agreement", Type: model.TypeContract, UploadDate: "2024-05-17"}, nil).Once()

		resp := post(`{"id":"1","coacheeId":"10","name":"Agreement","type":"contract"}`)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, "1", result.ID)
		assert.Equal(t, "2024-05-17", result.UploadDate)
		mockSvc.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := post(`{"id":`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_BODY", decodeError(t, resp).Error.Code)
	})

	t.Run("invalid record", func(t *testing.T) {
		mockSvc.On("Upload", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("store document: %w", repository.Validate(&model.Document{ID: "1"}))).Once()

		resp := post(`{"id":"1"}`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeError(t, resp)
		assert.Equal(t, "INVALID_RECORD", body.Error.Code)
		assert.Equal(t, "coacheeId is required; name is required", body.Error.Message)
		mockSvc.AssertExpectations(t)
	})

	t.Run("duplicate key", func(t *testing.T) {
		mockSvc.On("Upload", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("store document: %w", repository.ErrDuplicateKey)).Once()

		resp := post(`{"id":"1","coacheeId":"10","name":"again"}`)

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "DUPLICATE_KEY", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("store unavailable", func(t *testing.T) {
		mockSvc.On("Upload", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: disk full", repository.ErrStoreUnavailable)).Once()

		resp := post(`{"id":"2","coacheeId":"10","name":"n"}`)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "STORE_UNAVAILABLE", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestListDocumentsByType(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/documents", ListDocumentsByType(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("ListByType", mock.Anything, "report").Return([]model.Document{{ID: "1", Type: "report"}}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents?type=report", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result []model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Len(t, result, 1)
		mockSvc.AssertExpectations(t)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		mockSvc.On("ListByType", mock.Anything, "notes").Return(nil, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents?type=notes", nil))

		b, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "[]", string(b))
	})

	t.Run("type required", func(t *testing.T) {
		mockSvc.On("ListByType", mock.Anything, "").Return(nil, service.ErrTypeRequired).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents", nil))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "TYPE_REQUIRED", decodeError(t, resp).Error.Code)
	})
}

func TestListCoacheeDocuments(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/coachees/:coacheeId/documents", ListCoacheeDocuments(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("ListByOwner", mock.Anything, "10").Return([]model.Document{{ID: "1"}, {ID: "2"}}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/coachees/10/documents", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result []model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, []string{"1", "2"}, []string{result[0].ID, result[1].ID})
		mockSvc.AssertExpectations(t)
	})

	t.Run("store unavailable", func(t *testing.T) {
		mockSvc.On("ListByOwner", mock.Anything, "11").Return(nil, repository.ErrStoreUnavailable).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/coachees/11/documents", nil))

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestGetDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/documents/:id", GetDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, "doc-1").Return(&model.Document{ID: "doc-1", Name: "Notes"}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/doc-1", nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, "doc-1", result.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, "missing").Return(nil, service.ErrNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/missing", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, "boom").Return(nil, errors.New("db error")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/documents/boom", nil))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, resp).Error.Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestDeleteDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Delete("/documents/:id", DeleteDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, "doc-1").Return(nil).Twice()

		for i := 0; i < 2; i++ {
			resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/documents/doc-1", nil))
			assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		}
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, "doc-2").Return(errors.New("delete error")).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/documents/doc-2", nil))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestPreviewDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/documents/:id/preview", PreviewDocument(mockSvc))

	t.Run("handle created", func(t *testing.T) {
		mockSvc.On("Preview", mock.Anything, "doc-1").
			Return(&blob.Handle{URL: "http://app/blobs/abc", MimeType: "application/pdf", Size: 8}, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/documents/doc-1/preview", nil))

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		var body previewResponse
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "http://app/blobs/abc", body.URL)
		assert.Equal(t, 8, body.Size)
	})

	t.Run("nothing to preview", func(t *testing.T) {
		mockSvc.On("Preview", mock.Anything, "doc-2").Return(nil, nil).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/documents/doc-2/preview", nil))

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("disabled", func(t *testing.T) {
		mockSvc.On("Preview", mock.Anything, "doc-3").Return(nil, service.ErrPreviewDisabled).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/documents/doc-3/preview", nil))

		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
		assert.Equal(t, "PREVIEW_DISABLED", decodeError(t, resp).Error.Code)
	})

	mockSvc.AssertExpectations(t)
}

func TestBlobRoutes(t *testing.T) {
	handles := blob.NewMemoryHandles("http://app")
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/blobs/:token", ServeBlob(handles))
	app.Delete("/blobs/:token", ReleaseBlob(mockSvc))

	h, err := handles.Create(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	token := h.URL[strings.LastIndex(h.URL, "/")+1:]

	t.Run("serve", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/blobs/"+token, nil))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/pdf", resp.Header.Get(fiber.HeaderContentType))
		b, _ := io.ReadAll(resp.Body)
		assert.True(t, bytes.Equal([]byte("%PDF-1.4"), b))
	})

	t.Run("unknown token", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/blobs/nope", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("release", func(t *testing.T) {
		mockSvc.On("ReleasePreview", mock.Anything, token).Return(nil).Once()
		mockSvc.On("ReleasePreview", mock.Anything, "gone").Return(service.ErrHandleNotFound).Once()

		resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/blobs/"+token, nil))
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = app.Test(httptest.NewRequest(http.MethodDelete, "/blobs/gone", nil))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestReleaseHandle_ObjectBackend(t *testing.T) {
	mRepo := new(repoMocks.MockDocumentRepository)
	mStore := new(storageMocks.MockStorage)
	svc := service.NewDocumentService(mRepo, blob.NewObjectHandles(mStore, time.Minute), logging.Discard())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	// Object handles are not served locally, so no Blobs registry is wired.
	RegisterRoutes(app, Deps{Documents: svc})

	const presigned = "https://s3.local/docs/handles/abc?X-Amz-Signature=1&X-Amz-Expires=60"
	var key string
	mRepo.On("Get", mock.Anything, "doc-1").
		Return(&model.Document{ID: "doc-1", EncodedPayload: "data:application/pdf;base64,JVBERi0xLjQ="}, true, nil).Once()
	mStore.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool {
		key = k
		return strings.HasPrefix(k, "handles/")
	}), mock.Anything, mock.Anything).Return(storage.ObjectInfo{Size: 8}, nil).Once()
	mStore.On("PresignGet", mock.Anything, mock.Anything, time.Minute).Return(presigned, nil).Once()

	resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/documents/doc-1/preview", nil))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created previewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, presigned, created.URL)

	mStore.On("Delete", mock.Anything, mock.MatchedBy(func(k string) bool { return k == key })).Return(nil).Once()

	release := func(u string) *http.Response {
		resp, _ := app.Test(httptest.NewRequest(http.MethodDelete, "/handles?url="+url.QueryEscape(u), nil))
		return resp
	}

	assert.Equal(t, http.StatusNoContent, release(created.URL).StatusCode)

	resp = release(created.URL)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)

	resp, _ = app.Test(httptest.NewRequest(http.MethodDelete, "/handles", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "HANDLE_REQUIRED", decodeError(t, resp).Error.Code)

	mRepo.AssertExpectations(t)
	mStore.AssertExpectations(t)
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	mockSvc := new(serviceMocks.MockDocumentService)
	RegisterRoutes(app, Deps{Documents: mockSvc})

	t.Run("not found route", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/non-existent", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// /health is GET only.
		resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/health", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, resp).Error.Code)
	})

	t.Run("blob routes need memory handles", func(t *testing.T) {
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/blobs/abc", nil))

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("request id in error envelope", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, "x").Return(nil, service.ErrNotFound).Once()
		withID := fiber.New()
		withID.Use(func(c *fiber.Ctx) error {
			c.Locals("request_id", "rid-1")
			return c.Next()
		})
		withID.Get("/documents/:id", GetDocument(mockSvc))

		resp, _ := withID.Test(httptest.NewRequest(http.MethodGet, "/documents/x", nil))

		assert.Equal(t, "rid-1", decodeError(t, resp).RequestID)
	})
}
