package http

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/dto"
	"github.com/jhoicas/nfe-emissor/internal/application/fiscal"
	"github.com/jhoicas/nfe-emissor/internal/domain/classifier"
)

// DocumentService operaciones del motor de emisión expuestas por HTTP.
// Lo implementa *fiscal.Manager.
type DocumentService interface {
	RegisterDraft(ctx context.Context, tenantID string, in fiscal.DraftInput) (*fiscal.Result, error)
	UpdateDraftPayload(ctx context.Context, tenantID, documentID, payloadXML string) (*fiscal.Result, error)
	Submit(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	PollStatus(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	Cancel(ctx context.Context, tenantID, documentID, reason string) (*fiscal.Result, error)
	ReconcileCancellation(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	DuplicateAsNew(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	Get(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	AuthorizedXML(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	RenderDANFE(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	AddCorrection(ctx context.Context, tenantID, documentID, text string) (*fiscal.Result, error)
	ReconcileCorrections(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	ListCorrections(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)
	QueryServiceStatus(ctx context.Context, tenantID string) (*fiscal.Result, error)
}

// CertificateService carga del certificado A1 del tenant.
type CertificateService interface {
	Upload(ctx context.Context, tenantID, pfxBase64, password string) (*fiscal.Result, error)
}

// FiscalHandler maneja las peticiones HTTP de la NF-e (protegido).
type FiscalHandler struct {
	svc   DocumentService
	certs CertificateService
	log   zerolog.Logger
}

// NewFiscalHandler construye el handler.
func NewFiscalHandler(svc DocumentService, certs CertificateService, log zerolog.Logger) *FiscalHandler {
	return &FiscalHandler{svc: svc, certs: certs, log: log.With().Str("component", "http").Logger()}
}

// documentOp firma común de las operaciones sobre un documento.
type documentOp func(ctx context.Context, tenantID, documentID string) (*fiscal.Result, error)

// byID adapta una operación (tenant, id) a un handler.
func (h *FiscalHandler) byID(op documentOp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return badRequest(c, "id requerido")
		}
		res, err := op(c.UserContext(), GetTenantID(c), id)
		return writeResult(c, h.log, res, err)
	}
}

// Register registra una NF-e firmada como draft.
// POST /api/documents
func (h *FiscalHandler) Register(c *fiber.Ctx) error {
	var in dto.RegisterDraftRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.PayloadXML) == "" {
		return badRequest(c, "payload_xml requerido")
	}
	res, err := h.svc.RegisterDraft(c.UserContext(), GetTenantID(c), fiscal.DraftInput{
		Series:            in.Series,
		Number:            in.Number,
		PayloadXML:        in.PayloadXML,
		TotalAmount:       in.TotalAmount,
		RecipientName:     in.RecipientName,
		RecipientDocument: in.RecipientDocument,
	})
	if err == nil && res.Success {
		c.Status(fiber.StatusCreated)
		out := *res
		out.Data = present(res.Data)
		return c.JSON(out)
	}
	return writeResult(c, h.log, res, err)
}

// UpdatePayload reemplaza el payload de un draft.
// PUT /api/documents/:id/payload
func (h *FiscalHandler) UpdatePayload(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.UpdatePayloadRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.PayloadXML) == "" {
		return badRequest(c, "payload_xml requerido")
	}
	res, err := h.svc.UpdateDraftPayload(c.UserContext(), GetTenantID(c), id, in.PayloadXML)
	return writeResult(c, h.log, res, err)
}

// Cancel envía el evento de cancelamento.
// POST /api/documents/:id/cancel
func (h *FiscalHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.CancelRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.Reason) == "" {
		return badRequest(c, "reason requerido")
	}
	res, err := h.svc.Cancel(c.UserContext(), GetTenantID(c), id, in.Reason)
	return writeResult(c, h.log, res, err)
}

// AddCorrection envía una CC-e.
// POST /api/documents/:id/corrections
func (h *FiscalHandler) AddCorrection(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.CorrectionRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.Text) == "" {
		return badRequest(c, "text requerido")
	}
	res, err := h.svc.AddCorrection(c.UserContext(), GetTenantID(c), id, in.Text)
	return writeResult(c, h.log, res, err)
}

// XML descarga el nfeProc autorizado.
// GET /api/documents/:id/xml
func (h *FiscalHandler) XML(c *fiber.Ctx) error {
	res, err := h.svc.AuthorizedXML(c.UserContext(), GetTenantID(c), c.Params("id"))
	if err != nil || !res.Success {
		return writeResult(c, h.log, res, err)
	}
	body, _ := res.Data.(string)
	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+c.Params("id")+`-nfe.xml"`)
	return c.SendString(body)
}

// DANFE descarga la representación gráfica en PDF.
// GET /api/documents/:id/danfe
func (h *FiscalHandler) DANFE(c *fiber.Ctx) error {
	res, err := h.svc.RenderDANFE(c.UserContext(), GetTenantID(c), c.Params("id"))
	if err != nil || !res.Success {
		return writeResult(c, h.log, res, err)
	}
	pdf, _ := res.Data.([]byte)
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+c.Params("id")+`-danfe.pdf"`)
	return c.Send(pdf)
}

// ServiceStatus consulta NFeStatusServico4.
// GET /api/fiscal/service-status
func (h *FiscalHandler) ServiceStatus(c *fiber.Ctx) error {
	res, err := h.svc.QueryServiceStatus(c.UserContext(), GetTenantID(c))
	return writeResult(c, h.log, res, err)
}

// Classify clasifica un mensaje de rechazo (SEFAZ o gateway) sin enviar nada.
// POST /api/fiscal/classify
func (h *FiscalHandler) Classify(c *fiber.Ctx) error {
	var in dto.ClassifyRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.Message) == "" {
		return badRequest(c, "message requerido")
	}
	return c.JSON(fiscal.Result{Success: true, ClassifiedErrors: classifier.Classify(in.Message)})
}

// UploadCertificate reemplaza el certificado A1 del tenant.
// PUT /api/tenant/certificate
func (h *FiscalHandler) UploadCertificate(c *fiber.Ctx) error {
	var in dto.CertificateRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.PFXBase64 == "" || in.Password == "" {
		return badRequest(c, "pfx_base64 y password requeridos")
	}
	res, err := h.certs.Upload(c.UserContext(), GetTenantID(c), in.PFXBase64, in.Password)
	return writeResult(c, h.log, res, err)
}
