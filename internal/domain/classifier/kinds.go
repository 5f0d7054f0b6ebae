// Package classifier traduce los mensajes de rechazo de la SEFAZ o del gateway
// en errores clasificados con una ruta de corrección para la interfaz.
package classifier

// Kind tipo de error clasificado.
type Kind string

const (
	KindMissingTaxClassification Kind = "missing_tax_classification"
	KindMissingRegionCode        Kind = "missing_region_code"
	KindInvalidPartyDocument     Kind = "invalid_party_document"
	KindIncompleteAddress        Kind = "incomplete_address"
	KindMissingRequiredField     Kind = "missing_required_field"
	KindUnclassified             Kind = "unclassified"
)

// RelatedEntity entidad afectada (p. ej. productos sin NCM).
type RelatedEntity struct {
	Type  string   `json:"type"`
	Names []string `json:"names,omitempty"`
}

// Remediation destino al que la interfaz debe llevar al usuario.
type Remediation struct {
	Page   string `json:"page"`
	Action string `json:"action"`
	Label  string `json:"label"`
}

// ClassifiedError diagnóstico estructurado de un rechazo.
type ClassifiedError struct {
	Kind        Kind           `json:"kind"`
	Message     string         `json:"message"`
	Code        string         `json:"code,omitempty"`
	Reason      string         `json:"reason,omitempty"` // motivo canónico del cStat
	Related     *RelatedEntity `json:"related,omitempty"`
	Remediation Remediation    `json:"remediation"`
}

// routes tabla kind -> corrección. Es parte del contrato con la interfaz.
var routes = map[Kind]Remediation{
	KindMissingTaxClassification: {Page: "/products", Action: "edit_tax_classification", Label: "Corregir NCM de los productos"},
	KindMissingRegionCode:        {Page: "/settings/company", Action: "edit_city_code", Label: "Corregir código de municipio (IBGE)"},
	KindInvalidPartyDocument:     {Page: "/customers", Action: "edit_tax_id", Label: "Corregir CNPJ/CPF o inscripción estatal"},
	KindIncompleteAddress:        {Page: "/customers", Action: "edit_address", Label: "Completar dirección del destinatario"},
	KindMissingRequiredField:     {Page: "/documents", Action: "edit_document", Label: "Completar campos obligatorios"},
	KindUnclassified:             {Page: "/documents", Action: "view_rejection", Label: "Ver detalle del rechazo"},
}

// RouteFor devuelve la corrección sugerida para k.
func RouteFor(k Kind) Remediation {
	if r, ok := routes[k]; ok {
		return r
	}
	return routes[KindUnclassified]
}

// Kinds todos los tipos en orden estable.
func Kinds() []Kind {
	return []Kind{
		KindMissingTaxClassification,
		KindMissingRegionCode,
		KindInvalidPartyDocument,
		KindIncompleteAddress,
		KindMissingRequiredField,
		KindUnclassified,
	}
}
