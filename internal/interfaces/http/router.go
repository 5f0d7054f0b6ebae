package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Documents    DocumentService
	Certificates CertificateService
	JWTSecret    string
	Log          zerolog.Logger
}

// Router registra las rutas de la API. Todas requieren Bearer Token: el tenant
// sale del token, nunca del request.
func Router(app *fiber.App, deps RouterDeps) {
	h := NewFiscalHandler(deps.Documents, deps.Certificates, deps.Log)
	protected := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	// Documentos
	docs := protected.Group("/documents")
	docs.Post("/", h.Register)
	docs.Get("/:id", h.byID(deps.Documents.Get))
	docs.Post("/:id/submit", h.byID(deps.Documents.Submit))
	docs.Post("/:id/poll", h.byID(deps.Documents.PollStatus))
	docs.Put("/:id/payload", h.UpdatePayload)
	docs.Post("/:id/cancel", h.Cancel)
	docs.Post("/:id/cancel/reconcile", h.byID(deps.Documents.ReconcileCancellation))
	docs.Post("/:id/duplicate", h.byID(deps.Documents.DuplicateAsNew))
	docs.Get("/:id/xml", h.XML)
	docs.Get("/:id/danfe", h.DANFE)

	// Cartas de corrección
	docs.Get("/:id/corrections", h.byID(deps.Documents.ListCorrections))
	docs.Post("/:id/corrections", h.AddCorrection)
	docs.Post("/:id/corrections/reconcile", h.byID(deps.Documents.ReconcileCorrections))

	// Fiscal
	fiscalGroup := protected.Group("/fiscal")
	fiscalGroup.Get("/service-status", h.ServiceStatus)
	fiscalGroup.Post("/classify", h.Classify)

	// Tenant
	protected.Put("/tenant/certificate", h.UploadCertificate)
}
