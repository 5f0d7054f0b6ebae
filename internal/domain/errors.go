package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// Reglas de negocio del ciclo de vida fiscal. Se rechazan localmente, antes de
// cualquier llamada a la SEFAZ.
var (
	ErrInvalidState         = errors.New("estado del documento no permite la operación")
	ErrSubmissionInFlight   = errors.New("ya existe una operación en curso para el documento")
	ErrCancelReasonLength   = errors.New("justificación de cancelación fuera de rango (15 a 255 caracteres)")
	ErrCancelWindowExpired  = errors.New("plazo legal de cancelación vencido")
	ErrCorrectionLength     = errors.New("texto de la carta de corrección fuera de rango (15 a 1000 caracteres)")
	ErrCorrectionLimit      = errors.New("límite de 20 cartas de corrección alcanzado")
	ErrCorrectionPending    = errors.New("existe una carta de corrección pendiente de conciliación")
	ErrNoReconciliationPath = errors.New("sin recibo ni chave de acceso para consultar el documento")
	ErrKeyMismatch          = errors.New("la chave del payload no corresponde a la serie y número del documento")
	ErrCancelPending        = errors.New("existe una cancelación con resultado desconocido pendiente de conciliación")
)
