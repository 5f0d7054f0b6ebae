package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// signal patrón de dominio. Los patrones se aplican sobre el texto sin acentos
// y en minúsculas; cubren el texto de la SEFAZ y el de los gateways.
type signal struct {
	kind     Kind
	message  string
	patterns []*regexp.Regexp
}

var signals = []signal{
	{
		kind:    KindMissingTaxClassification,
		message: "Hay productos sin clasificación fiscal (NCM) válida",
		patterns: compile(
			`\bsem ncm\b`,
			`\bncm\b.{0,40}\b(invalid|inexistente|obrigatori|nao informad|ausente|missing|required)`,
			`\b(invalid|missing|sem|falta)\w*\b.{0,20}\bncm\b`,
			`classificacao fiscal`,
			`tax classification`,
		),
	},
	{
		kind:    KindMissingRegionCode,
		message: "Falta o es inválido el código de municipio (IBGE)",
		patterns: compile(
			`codigo (do |de )?municipio`,
			`\bcmun\b`,
			`\bibge\b`,
			`city code`,
		),
	},
	{
		kind:    KindInvalidPartyDocument,
		message: "CNPJ, CPF o inscripción estatal inválidos",
		patterns: compile(
			`\b(cnpj|cpf|inscricao estadual)\b.{0,40}\b(invalid|incorret|nao informad|missing)`,
			`\b(invalid|incorret)\w*\b.{0,20}\b(cnpj|cpf)\b`,
			`\bie do (emitente|destinatario)\b`,
			`(tax id|document number).{0,20}invalid`,
		),
	},
	{
		kind:    KindIncompleteAddress,
		message: "La dirección del destinatario está incompleta",
		patterns: compile(
			`endereco.{0,40}\b(incomplet|invalid|nao informad)`,
			`\b(logradouro|bairro)\b.{0,40}\b(nao informad|obrigatori|invalid|vazio)`,
			`\bcep\b.{0,20}\b(invalid|nao informad|obrigatori)`,
			`(incomplete|invalid|missing) (shipping |billing )?address`,
			`address.{0,20}(incomplete|missing)`,
		),
	},
	{
		kind:    KindMissingRequiredField,
		message: "Faltan campos obligatorios en el documento",
		patterns: compile(
			`campo obrigatorio`,
			`obrigatori\w* (a )?informacao`,
			`falha no schema`,
			`required field`,
			`\bis required\b`,
		),
	},
}

var (
	codePattern = regexp.MustCompile(`\[(\d{3})\]`)

	productListPatterns = compile(
		`produtos? sem ncm\s*:\s*([^.;\n]+)`,
		`products? without ncm\s*:\s*([^.;\n]+)`,
	)
	listSeparator = regexp.MustCompile(`\s*,\s*|\s+e\s+|\s+and\s+`)
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Classify devuelve uno o más errores clasificados para raw. La detección es
// aditiva (un mensaje puede traer varios problemas) y deduplica por kind.
// Sin coincidencias devuelve un único "unclassified" con el mensaje tal cual.
func Classify(raw string) []ClassifiedError {
	folded := Fold(raw)
	var out []ClassifiedError
	index := map[Kind]int{}

	add := func(ce ClassifiedError) {
		if i, ok := index[ce.Kind]; ok {
			if out[i].Code == "" {
				out[i].Code = ce.Code
				out[i].Reason = ce.Reason
			}
			if ce.Related != nil && out[i].Related == nil {
				out[i].Related = ce.Related
			}
			return
		}
		ce.Remediation = RouteFor(ce.Kind)
		index[ce.Kind] = len(out)
		out = append(out, ce)
	}

	for _, m := range codePattern.FindAllStringSubmatch(raw, -1) {
		code := m[1]
		rc, ok := rejectCodes[code]
		if !ok {
			continue
		}
		ce := ClassifiedError{Kind: rc.Kind, Message: rc.Reason, Code: code, Reason: rc.Reason}
		if rc.Kind == KindUnclassified {
			// Sin remediación propia: el detalle de la SEFAZ es lo único accionable.
			ce.Message = raw
		}
		add(ce)
	}

	for _, s := range signals {
		if !matchesAny(s.patterns, folded) {
			continue
		}
		ce := ClassifiedError{Kind: s.kind, Message: s.message}
		if s.kind == KindMissingTaxClassification {
			if names := productNames(raw); len(names) > 0 {
				ce.Related = &RelatedEntity{Type: "product", Names: names}
				ce.Message = fmt.Sprintf("%s: %s", s.message, strings.Join(names, ", "))
			}
		}
		add(ce)
	}

	if len(out) == 0 {
		return []ClassifiedError{{
			Kind:        KindUnclassified,
			Message:     raw,
			Remediation: RouteFor(KindUnclassified),
		}}
	}
	return out
}

// Codes cStat entre corchetes presentes en raw, en orden de aparición.
func Codes(raw string) []string {
	var out []string
	for _, m := range codePattern.FindAllStringSubmatch(raw, -1) {
		out = append(out, m[1])
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// productNames extrae la lista de "Produtos sem NCM: A, B." sobre el texto
// original para conservar acentos y mayúsculas de los nombres.
func productNames(raw string) []string {
	for _, p := range productListPatterns {
		m := p.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		var names []string
		for _, n := range listSeparator.Split(m[1], -1) {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		return names
	}
	return nil
}

// Fold quita acentos y pasa a minúsculas ("Endereço" -> "endereco").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
