package sefaz

import (
	"fmt"

	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// Endpoints URL por operación para un ambiente.
type Endpoints map[Operation]string

// SEFAZ Virtual do Rio Grande do Sul (atiende la mayoría de los estados).
var (
	svrsHomologation = Endpoints{
		OpSubmitBatch:        "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
		OpQueryBatch:         "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
		OpQueryDocument:      "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeConsulta/NfeConsulta4.asmx",
		OpQueryServiceStatus: "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeStatusServico/NfeStatusServico4.asmx",
		OpSubmitEvent:        "https://nfe-homologacao.svrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
	}
	svrsProduction = Endpoints{
		OpSubmitBatch:        "https://nfe.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
		OpQueryBatch:         "https://nfe.svrs.rs.gov.br/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
		OpQueryDocument:      "https://nfe.svrs.rs.gov.br/ws/NfeConsulta/NfeConsulta4.asmx",
		OpQueryServiceStatus: "https://nfe.svrs.rs.gov.br/ws/NfeStatusServico/NfeStatusServico4.asmx",
		OpSubmitEvent:        "https://nfe.svrs.rs.gov.br/ws/recepcaoevento/recepcaoevento4.asmx",
	}
)

// DefaultEndpoints endpoints SVRS del ambiente (tpAmb). overrides reemplaza
// entradas puntuales (estados con SEFAZ propia o entornos de prueba).
func DefaultEndpoints(environment string, overrides map[Operation]string) (Endpoints, error) {
	var base Endpoints
	switch environment {
	case nfe.EnvironmentProduction:
		base = svrsProduction
	case nfe.EnvironmentHomologation:
		base = svrsHomologation
	default:
		return nil, fmt.Errorf("sefaz: ambiente desconocido %q (usar 1 o 2)", environment)
	}
	out := make(Endpoints, len(base))
	for op, url := range base {
		out[op] = url
	}
	for op, url := range overrides {
		if !op.Valid() {
			return nil, fmt.Errorf("sefaz: override para operación desconocida %d", int(op))
		}
		if url != "" {
			out[op] = url
		}
	}
	return out, nil
}

// URL endpoint de op.
func (e Endpoints) URL(op Operation) (string, error) {
	url, ok := e[op]
	if !ok || url == "" {
		return "", fmt.Errorf("sefaz: sin endpoint para %s", op)
	}
	return url, nil
}

// ParseOperation resuelve el nombre público ("submit-batch") de una operación.
func ParseOperation(name string) (Operation, bool) {
	for _, op := range Operations() {
		if operations[op].Name == name {
			return op, true
		}
	}
	return 0, false
}
