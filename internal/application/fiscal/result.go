// Package fiscal orquesta el ciclo de vida de la NF-e (envío, consulta,
// cancelación, duplicado) y de las cartas de corrección.
package fiscal

import (
	"errors"
	"fmt"

	"github.com/jhoicas/nfe-emissor/internal/domain"
	"github.com/jhoicas/nfe-emissor/internal/domain/classifier"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
)

// FailureCategory taxonomía de fallas devueltas como datos.
type FailureCategory string

const (
	CategoryTransport    FailureCategory = "transport"
	CategoryCredential   FailureCategory = "credential"
	CategoryAuthority    FailureCategory = "authority_rejection"
	CategoryBusinessRule FailureCategory = "business_rule"
)

// Failure detalle de una operación que no tuvo éxito.
type Failure struct {
	Category  FailureCategory `json:"category"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
}

// Result salida de toda operación del motor. Las fallas de negocio, de
// credencial, de transporte y los rechazos de la SEFAZ vienen aquí; solo las
// fallas de infraestructura (base de datos caída) se devuelven como error.
type Result struct {
	Success          bool                         `json:"success"`
	Data             any                          `json:"data,omitempty"`
	ClassifiedErrors []classifier.ClassifiedError `json:"classified_errors,omitempty"`
	Failure          *Failure                     `json:"failure,omitempty"`
	Warnings         []string                     `json:"warnings,omitempty"`
}

func ok(data any, warnings ...string) *Result {
	return &Result{Success: true, Data: data, Warnings: warnings}
}

// businessFailure regla local violada; nunca hubo llamada de red.
func businessFailure(err error, data any) *Result {
	return &Result{
		Data: data,
		Failure: &Failure{
			Category:  CategoryBusinessRule,
			Code:      businessCode(err),
			Message:   err.Error(),
			Retryable: errors.Is(err, domain.ErrSubmissionInFlight),
		},
	}
}

func credentialFailure(err error) *Result {
	return &Result{
		Failure: &Failure{
			Category: CategoryCredential,
			Code:     credentialCode(err),
			Message:  "corrija su certificado digital: " + err.Error(),
		},
	}
}

// transportFailure resultado desconocido: se reconcilia consultando, no reenviando.
func transportFailure(msg string, data any) *Result {
	return &Result{
		Data: data,
		Failure: &Failure{
			Category:  CategoryTransport,
			Code:      "transport_error",
			Message:   msg,
			Retryable: true,
		},
	}
}

// authorityRejection rechazo de la SEFAZ o del gateway, clasificado.
func authorityRejection(code, reason string, data any) *Result {
	msg := reason
	if code != "" {
		msg = fmt.Sprintf("[%s] %s", code, reason)
	}
	return &Result{
		Data:             data,
		ClassifiedErrors: classifier.Classify(msg),
		Failure: &Failure{
			Category: CategoryAuthority,
			Code:     code,
			Message:  msg,
		},
	}
}

func businessCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrSubmissionInFlight):
		return "submission_in_flight"
	case errors.Is(err, domain.ErrCancelReasonLength):
		return "cancel_reason_length"
	case errors.Is(err, domain.ErrCancelWindowExpired):
		return "cancel_window_expired"
	case errors.Is(err, domain.ErrCorrectionLength):
		return "correction_length"
	case errors.Is(err, domain.ErrCorrectionLimit):
		return "correction_limit"
	case errors.Is(err, domain.ErrCorrectionPending):
		return "correction_pending"
	case errors.Is(err, domain.ErrCancelPending):
		return "cancel_pending"
	case errors.Is(err, domain.ErrKeyMismatch):
		return "key_mismatch"
	case errors.Is(err, domain.ErrNoReconciliationPath):
		return "no_reconciliation_path"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrDuplicate):
		return "duplicate"
	default:
		return "business_rule"
	}
}

func credentialCode(err error) string {
	switch {
	case errors.Is(err, certificate.ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, certificate.ErrCertificateExpired):
		return "certificate_expired"
	case errors.Is(err, certificate.ErrNoCertificateFound):
		return "no_certificate_found"
	case errors.Is(err, certificate.ErrNoPrivateKeyFound):
		return "no_private_key_found"
	case errors.Is(err, certificate.ErrCertificateNotConfigured):
		return "certificate_not_configured"
	default:
		return "invalid_certificate_bundle"
	}
}
