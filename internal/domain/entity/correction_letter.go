package entity

import "time"

// Estados de la carta de corrección (CC-e).
const (
	CorrectionPending    = "pending"
	CorrectionAuthorized = "authorized"
)

// Límites legales de la CC-e.
const (
	MaxCorrectionLetters   = 20
	MinCorrectionTextChars = 15
	MaxCorrectionTextChars = 1000
)

// CorrectionLetter enmienda secuenciada de una NF-e autorizada.
type CorrectionLetter struct {
	ID           string
	DocumentID   string
	Sequence     int // nSeqEvento, 1..20 sin huecos
	Text         string
	Status       string
	Protocol     string
	RegisteredAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
