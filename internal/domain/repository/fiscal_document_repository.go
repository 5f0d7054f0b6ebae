package repository

import (
	"context"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
)

// FiscalDocumentRepository define el puerto de persistencia para la NF-e.
type FiscalDocumentRepository interface {
	Create(ctx context.Context, doc *entity.FiscalDocument) error
	// GetByID devuelve (nil, nil) si el documento no existe.
	GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error)
	// Update persiste estado y artefactos. Número y serie no se modifican.
	Update(ctx context.Context, doc *entity.FiscalDocument) error
	// NextNumber devuelve max(number)+1 para la serie del tenant.
	NextNumber(ctx context.Context, tenantID string, series int) (int64, error)
	// ListByStatus se usa al arrancar para reprogramar el polling de documentos pending.
	ListByStatus(ctx context.Context, status entity.DocumentStatus, limit int) ([]*entity.FiscalDocument, error)
}
