package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfe-emissor/internal/application/dto"
	"github.com/jhoicas/nfe-emissor/internal/application/fiscal"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
)

// statusFor código HTTP de un Result. Las fallas de negocio y los rechazos
// son resultados (4xx con cuerpo Result), nunca errores del servidor.
func statusFor(res *fiscal.Result) int {
	if res.Success || res.Failure == nil {
		return fiber.StatusOK
	}
	switch res.Failure.Category {
	case fiscal.CategoryTransport:
		// Resultado desconocido: el documento sigue pending y se consultará.
		return fiber.StatusAccepted
	case fiscal.CategoryBusinessRule:
		switch res.Failure.Code {
		case "not_found":
			return fiber.StatusNotFound
		case "submission_in_flight", "invalid_state", "correction_pending", "cancel_pending", "duplicate":
			return fiber.StatusConflict
		}
	}
	return fiber.StatusUnprocessableEntity
}

// writeResult serializa el Result con las entidades mapeadas a DTO.
func writeResult(c *fiber.Ctx, log zerolog.Logger, res *fiscal.Result, err error) error {
	if err != nil {
		log.Error().Err(err).Str("path", c.Path()).Str("tenant_id", GetTenantID(c)).Msg("falla de infraestructura")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno, intente más tarde"})
	}
	out := *res
	out.Data = present(res.Data)
	return c.Status(statusFor(res)).JSON(out)
}

func present(data any) any {
	switch v := data.(type) {
	case *entity.FiscalDocument:
		return dto.ToDocumentResponse(v)
	case *entity.CorrectionLetter:
		return dto.ToCorrectionResponse(v)
	case []*entity.CorrectionLetter:
		out := make([]dto.CorrectionResponse, 0, len(v))
		for _, l := range v {
			out = append(out, dto.ToCorrectionResponse(l))
		}
		return out
	default:
		return data
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: msg})
}
