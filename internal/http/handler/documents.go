package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"coachdocs/internal/blob"
	"coachdocs/internal/model"
	"coachdocs/internal/service"
	"coachdocs/internal/store"
)

// StoreChecker reports whether the document store is usable.
type StoreChecker interface {
	State() store.State
	Ping(ctx context.Context) error
}

// previewResponse is returned by PreviewDocument.
type previewResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// HealthCheck pings the document store.
//
// @Summary  Readiness probe
// @Tags     health
// @Produce  json
// @Success  200 {object} map[string]string
// @Failure  503 {object} errorPayload
// @Router   /health [get]
func HealthCheck(st StoreChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy", "store": st.State().String()})
	}
}

// LivenessProbe always answers 200.
//
// @Summary  Liveness probe
// @Tags     health
// @Success  200
// @Router   /healthz [get]
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadDocument stores a JSON document.
//
// @Summary  Store a document
// @Tags     documents
// @Accept   json
// @Produce  json
// @Param    document body     model.Document true "document"
// @Success  201      {object} model.Document
// @Failure  400      {object} errorPayload
// @Failure  409      {object} errorPayload
// @Failure  503      {object} errorPayload
// @Router   /documents [post]
func UploadDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var doc model.Document
		if err := c.BodyParser(&doc); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "request body must be a JSON document")
		}

		stored, err := svc.Upload(c.UserContext(), &doc)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(stored)
	}
}

// ListDocumentsByType lists the documents of one category.
//
// @Summary  List documents by type
// @Tags     documents
// @Produce  json
// @Param    type query    string true "document type"
// @Success  200  {array}  model.Document
// @Failure  400  {object} errorPayload
// @Failure  503  {object} errorPayload
// @Router   /documents [get]
func ListDocumentsByType(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		docs, err := svc.ListByType(c.UserContext(), c.Query("type"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(nonNil(docs))
	}
}

// ListCoacheeDocuments lists the documents owned by one coachee.
//
// @Summary  List a coachee's documents
// @Tags     documents
// @Produce  json
// @Param    coacheeId path     string true "coachee id"
// @Success  200       {array}  model.Document
// @Failure  503       {object} errorPayload
// @Router   /coachees/{coacheeId}/documents [get]
func ListCoacheeDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		docs, err := svc.ListByOwner(c.UserContext(), c.Params("coacheeId"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(nonNil(docs))
	}
}

// GetDocument returns one document.
//
// @Summary  Get a document
// @Tags     documents
// @Produce  json
// @Param    id  path     string true "document id"
// @Success  200 {object} model.Document
// @Failure  404 {object} errorPayload
// @Failure  503 {object} errorPayload
// @Router   /documents/{id} [get]
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes a document. Unknown ids still answer 204.
//
// @Summary  Delete a document
// @Tags     documents
// @Param    id  path string true "document id"
// @Success  204
// @Failure  503 {object} errorPayload
// @Router   /documents/{id} [delete]
func DeleteDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Delete(c.UserContext(), c.Params("id")); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// PreviewDocument turns the inline payload of a document into a resource handle.
// 204 means the document has nothing that can be previewed.
//
// @Summary  Create a preview handle
// @Tags     documents
// @Produce  json
// @Param    id  path     string true "document id"
// @Success  201 {object} previewResponse
// @Success  204
// @Failure  404 {object} errorPayload
// @Failure  501 {object} errorPayload
// @Router   /documents/{id}/preview [post]
func PreviewDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h, err := svc.Preview(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		if h == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Status(fiber.StatusCreated).JSON(previewResponse{URL: h.URL, MimeType: h.MimeType, Size: h.Size})
	}
}

// ServeBlob streams the content behind an in-memory handle.
//
// @Summary  Download handle content
// @Tags     blobs
// @Param    token path string true "handle token"
// @Success  200
// @Failure  404 {object} errorPayload
// @Router   /blobs/{token} [get]
func ServeBlob(handles *blob.MemoryHandles) fiber.Handler {
	return func(c *fiber.Ctx) error {
		data, mimeType, err := handles.Open(c.Params("token"))
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Set(fiber.HeaderContentType, mimeType)
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.Send(data)
	}
}

// ReleaseBlob releases a handle created by PreviewDocument.
//
// @Summary  Release a handle
// @Tags     blobs
// @Param    token path string true "handle token"
// @Success  204
// @Failure  404 {object} errorPayload
// @Router   /blobs/{token} [delete]
func ReleaseBlob(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.ReleasePreview(c.UserContext(), c.Params("token")); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ReleaseHandle releases a preview handle by its full URL. It works for every
// handle backend.
//
// @Summary  Release a handle by URL
// @Tags     blobs
// @Param    url query string true "handle url"
// @Success  204
// @Failure  400 {object} errorPayload
// @Failure  404 {object} errorPayload
// @Router   /handles [delete]
func ReleaseHandle(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.ReleasePreview(c.UserContext(), c.Query("url")); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func nonNil(docs []model.Document) []model.Document {
	if docs == nil {
		return []model.Document{}
	}
	return docs
}
