package classifier

// rejectCode motivo canónico (texto oficial de la tabla de cStat) y tipo.
type rejectCode struct {
	Reason string
	Kind   Kind
}

// rejectCodes rechazos frecuentes de autorización y eventos (MOC 7.0, anexo I).
var rejectCodes = map[string]rejectCode{
	"204": {"Rejeição: Duplicidade de NF-e", KindUnclassified},
	"207": {"Rejeição: CNPJ do emitente inválido", KindInvalidPartyDocument},
	"208": {"Rejeição: CNPJ do destinatário inválido", KindInvalidPartyDocument},
	"209": {"Rejeição: IE do emitente inválida", KindInvalidPartyDocument},
	"210": {"Rejeição: IE do destinatário inválida", KindInvalidPartyDocument},
	"215": {"Rejeição: Falha no schema XML", KindMissingRequiredField},
	"220": {"Rejeição: Prazo de Cancelamento superior ao previsto na Legislação", KindUnclassified},
	"225": {"Rejeição: Falha no Schema XML da NF-e", KindMissingRequiredField},
	"232": {"Rejeição: IE do destinatário não informada", KindInvalidPartyDocument},
	"237": {"Rejeição: CPF do destinatário inválido", KindInvalidPartyDocument},
	"272": {"Rejeição: Código Município do Emitente: dígito inválido", KindMissingRegionCode},
	"273": {"Rejeição: Código Município do Emitente: difere da UF do emitente", KindMissingRegionCode},
	"274": {"Rejeição: Código Município do Destinatário: dígito inválido", KindMissingRegionCode},
	"275": {"Rejeição: Código Município do Destinatário: difere da UF do Destinatário", KindMissingRegionCode},
	"301": {"Uso Denegado: Irregularidade fiscal do emitente", KindUnclassified},
	"302": {"Uso Denegado: Irregularidade fiscal do destinatário", KindUnclassified},
	"539": {"Rejeição: Duplicidade de NF-e, com diferença na Chave de Acesso", KindUnclassified},
	"573": {"Rejeição: Duplicidade de Evento", KindUnclassified},
	"594": {"Rejeição: O número de sequência do evento informado é maior que o permitido", KindUnclassified},
	"777": {"Rejeição: Obrigatória a informação do NCM completo", KindMissingTaxClassification},
	"778": {"Rejeição: Informado NCM inexistente", KindMissingTaxClassification},
	"999": {"Rejeição: Erro não catalogado", KindUnclassified},
}

// CanonicalReason motivo oficial de un cStat conocido.
func CanonicalReason(code string) (string, bool) {
	rc, ok := rejectCodes[code]
	return rc.Reason, ok
}
