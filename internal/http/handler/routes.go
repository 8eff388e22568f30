package handler

import (
	"github.com/gofiber/fiber/v2"

	"coachdocs/internal/blob"
	"coachdocs/internal/service"
)

// Deps are the collaborators the HTTP routes need.
type Deps struct {
	Store     StoreChecker
	Documents service.DocumentService
	// Blobs is set when handles are kept in memory; the /blobs routes serve them.
	// DELETE /handles releases handles of any backend.
	Blobs *blob.MemoryHandles
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/health", HealthCheck(d.Store))
	app.Get("/healthz", LivenessProbe())

	app.Post("/documents", UploadDocument(d.Documents))
	app.Get("/documents", ListDocumentsByType(d.Documents))
	app.Get("/documents/:id", GetDocument(d.Documents))
	app.Delete("/documents/:id", DeleteDocument(d.Documents))
	app.Post("/documents/:id/preview", PreviewDocument(d.Documents))

	app.Get("/coachees/:coacheeId/documents", ListCoacheeDocuments(d.Documents))
	app.Delete("/handles", ReleaseHandle(d.Documents))

	if d.Blobs != nil {
		app.Get("/blobs/:token", ServeBlob(d.Blobs))
		app.Delete("/blobs/:token", ReleaseBlob(d.Documents))
	}
}
