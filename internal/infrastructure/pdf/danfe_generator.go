// Package pdf genera el DANFE (Documento Auxiliar da NF-e) a partir del
// nfeProc autorizado.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Emitente + CNPJ     │  DANFE  N° / Série / Emissão  │
//	│  CHAVE DE ACESSO: código de barras + chave agrupada          │
//	│  PROTOCOLO DE AUTORIZAÇÃO                                    │
//	│  ─────────────────────────────────────────────────────────  │
//	│  DESTINATÁRIO: Nome + CNPJ/CPF                               │
//	│  ─────────────────────────────────────────────────────────  │
//	│  PRODUTOS: Descrição | Qtd | V.Unit | V.Total                │
//	│  ─────────────────────────────────────────────────────────  │
//	│  VALOR TOTAL DA NOTA                                         │
//	│  FOOTER: QR de consulta + leyenda                            │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-emissor/internal/application/ports"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// ConsultaURL portal nacional de consulta por chave.
const ConsultaURL = "https://www.nfe.fazenda.gov.br/portal/consultaRecaptcha.aspx?tipoConsulta=resumo&nfe="

// ErrNotAuthorized el documento aún no tiene chave ni protocolo.
var ErrNotAuthorized = errors.New("pdf: documento sin autorización")

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

// ── Datos ─────────────────────────────────────────────────────────────────────

// danfeData campos leídos del nfeProc; los faltantes caen a los del documento.
type danfeData struct {
	EmitName     string
	EmitDocument string
	DestName     string
	DestDocument string
	Number       string
	Series       string
	IssuedAt     string
	AccessKey    string
	Protocol     string
	AuthorizedAt string
	Total        decimal.Decimal
	Items        []danfeItem
	Canceled     bool
	Homologation bool
}

type danfeItem struct {
	Description string
	Quantity    string
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// ── Generator ─────────────────────────────────────────────────────────────────

// DANFEGenerator implementa ports.DANFERenderer usando Maroto v2.
type DANFEGenerator struct{}

// NewDANFEGenerator construye el generador.
func NewDANFEGenerator() *DANFEGenerator { return &DANFEGenerator{} }

// Render genera el PDF y devuelve sus bytes.
func (g *DANFEGenerator) Render(doc *entity.FiscalDocument) ([]byte, error) {
	if doc.AccessKey == "" || doc.ProtocolNumber == "" {
		return nil, ErrNotAuthorized
	}
	data, err := readDANFE(doc)
	if err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("DANFE "+data.AccessKey, true).
		WithAuthor(data.EmitName, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(data))
	m.AddRows(keyRows(data)...)
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(destRow(data))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableItemRows(data.Items)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalRow(data))

	m.AddRows(line.NewRow(3))
	m.AddRows(footerRows(data)...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar DANFE: %w", err)
	}
	return out.GetBytes(), nil
}

var _ ports.DANFERenderer = (*DANFEGenerator)(nil)

// readDANFE lee emitente, destinatário, ide, itens y totales del nfeProc.
func readDANFE(doc *entity.FiscalDocument) (*danfeData, error) {
	data := &danfeData{
		DestName:     doc.RecipientName,
		DestDocument: doc.RecipientDocument,
		Number:       fmt.Sprintf("%09d", doc.Number),
		Series:       fmt.Sprintf("%03d", doc.Series),
		AccessKey:    nfe.NormalizeAccessKey(doc.AccessKey),
		Protocol:     doc.ProtocolNumber,
		Total:        doc.TotalAmount,
		Canceled:     doc.Status == entity.StatusCanceled,
	}
	if doc.AuthorizedAt != nil {
		data.AuthorizedAt = doc.AuthorizedAt.Format("02/01/2006 15:04:05")
	}

	src := doc.AuthorizedXML
	if src == "" {
		src = doc.PayloadXML
	}
	if strings.TrimSpace(src) == "" {
		return data, nil
	}
	x := etree.NewDocument()
	if err := x.ReadFromString(src); err != nil {
		return nil, fmt.Errorf("pdf: leer nfeProc: %w", err)
	}
	inf := x.FindElement("//infNFe")
	if inf == nil {
		return data, nil
	}

	data.EmitName = childText(inf, "emit/xNome", data.EmitName)
	data.EmitDocument = childText(inf, "emit/CNPJ", childText(inf, "emit/CPF", ""))
	data.DestName = childText(inf, "dest/xNome", data.DestName)
	data.DestDocument = childText(inf, "dest/CNPJ", childText(inf, "dest/CPF", data.DestDocument))
	data.Homologation = childText(inf, "ide/tpAmb", "") == "2"
	if v := childText(inf, "ide/dhEmi", ""); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			data.IssuedAt = t.Format("02/01/2006")
		}
	}
	if v, err := decimal.NewFromString(childText(inf, "total/ICMSTot/vNF", "")); err == nil {
		data.Total = v
	}
	for _, det := range inf.SelectElements("det") {
		item := danfeItem{
			Description: childText(det, "prod/xProd", ""),
			Quantity:    trimQuantity(childText(det, "prod/qCom", "")),
		}
		item.UnitPrice, _ = decimal.NewFromString(childText(det, "prod/vUnCom", "0"))
		item.Total, _ = decimal.NewFromString(childText(det, "prod/vProd", "0"))
		data.Items = append(data.Items, item)
	}
	if p := x.FindElement("//protNFe/infProt/nProt"); p != nil && data.Protocol == "" {
		data.Protocol = p.Text()
	}
	return data, nil
}

func childText(el *etree.Element, path, fallback string) string {
	if c := el.FindElement(path); c != nil {
		if s := strings.TrimSpace(c.Text()); s != "" {
			return s
		}
	}
	return fallback
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: emitente (izq) y número/série/emissão (der).
func headerRow(d *danfeData) core.Row {
	return row.New(20).Add(
		col.New(7).Add(
			text.New(nonEmpty(d.EmitName, "EMITENTE"), props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("CNPJ: "+formatCNPJ(d.EmitDocument), props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("DANFE", props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("N° %s  Série %s", d.Number, d.Series), props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Right, Top: 8,
			}),
			text.New("Emissão: "+nonEmpty(d.IssuedAt, "—"), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

// keyRows: código de barras CODE-128 de la chave, chave agrupada y protocolo.
func keyRows(d *danfeData) []core.Row {
	return []core.Row{
		row.New(16).Add(col.New(12).Add(code.NewBar(d.AccessKey, props.Barcode{
			Percent: 90,
			Center:  true,
		}))),
		row.New(6).Add(col.New(12).Add(
			text.New("CHAVE DE ACESSO: "+groupKey(d.AccessKey), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 1,
			}),
		)),
		row.New(6).Add(col.New(12).Add(
			text.New(fmt.Sprintf("PROTOCOLO DE AUTORIZAÇÃO: %s  %s", d.Protocol, d.AuthorizedAt), props.Text{
				Size: 8, Align: align.Center, Top: 1, Color: colorGray,
			}),
		)),
	}
}

// destRow: datos del destinatário.
func destRow(d *danfeData) core.Row {
	return row.New(14).Add(
		col.New(12).Add(
			text.New("DESTINATÁRIO / REMETENTE", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(d.DestName, "—"), props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New("CNPJ/CPF: "+formatCNPJ(d.DestDocument), props.Text{
				Size: 8, Top: 12, Color: colorGray,
			}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).WithStyle(&props.Cell{BackgroundColor: colorPrimary}).Add(
		h("Descrição do produto/serviço", 6, align.Left),
		h("Qtd.", 2, align.Center),
		h("V. Unit.", 2, align.Right),
		h("V. Total", 2, align.Right),
	)
}

func tableItemRows(items []danfeItem) []core.Row {
	if len(items) == 0 {
		return []core.Row{row.New(7).Add(col.New(12).Add(
			text.New("Itens conforme XML autorizado", props.Text{Size: 8, Top: 1, Left: 1, Color: colorGray}),
		))}
	}
	result := make([]core.Row, 0, len(items))
	for _, it := range items {
		result = append(result, row.New(7).Add(
			col.New(6).Add(text.New(it.Description, props.Text{Size: 8, Top: 1, Left: 1})),
			col.New(2).Add(text.New(it.Quantity, props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(2).Add(text.New(formatMoney(it.UnitPrice), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(2).Add(text.New(formatMoney(it.Total), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return result
}

func totalRow(d *danfeData) core.Row {
	return row.New(10).Add(
		col.New(6),
		col.New(3).Add(text.New("VALOR TOTAL DA NOTA:", props.Text{
			Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 2, Top: 2,
		})),
		col.New(3).Add(text.New("R$ "+formatMoney(d.Total), props.Text{
			Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1, Top: 2,
		})),
	)
}

// footerRows: QR de consulta pública + leyendas de cancelamiento y homologación.
func footerRows(d *danfeData) []core.Row {
	rows := []core.Row{
		row.New(40).Add(
			col.New(4).Add(code.NewQr(ConsultaURL+d.AccessKey, props.Rect{
				Percent: 95,
				Center:  true,
			})),
			col.New(8).Add(
				text.New("Consulte a autenticidade no portal nacional da NF-e\nwww.nfe.fazenda.gov.br/portal", props.Text{
					Size: 8, Top: 4, Left: 3, Color: colorGray,
				}),
				text.New("Documento Auxiliar da\nNota Fiscal Eletrônica", props.Text{
					Style: fontstyle.Bold, Size: 10, Top: 20, Left: 3, Color: colorPrimary,
				}),
			),
		),
	}
	if d.Canceled {
		rows = append(rows, row.New(10).Add(col.New(12).Add(
			text.New("NF-e CANCELADA", props.Text{
				Style: fontstyle.Bold, Size: 14, Align: align.Center, Top: 2,
				Color: &props.Color{Red: 180, Green: 0, Blue: 0},
			}),
		)))
	}
	if d.Homologation {
		rows = append(rows, row.New(8).Add(col.New(12).Add(
			text.New("EMITIDA EM AMBIENTE DE HOMOLOGAÇÃO - SEM VALOR FISCAL", props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Center, Top: 2, Color: colorGray,
			}),
		)))
	}
	return rows
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatMoney formato brasileño con dos decimales.
// Ej: 1234567.5 → "1.234.567,50"
func formatMoney(v decimal.Decimal) string {
	s := v.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	n := len(intPart)
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	out := string(buf) + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}

// groupKey agrupa la chave en bloques de 4 dígitos.
func groupKey(key string) string {
	return strings.Join(splitEvery(key, 4), " ")
}

// formatCNPJ 12345678000195 → 12.345.678/0001-95; otros largos quedan igual.
func formatCNPJ(doc string) string {
	if len(doc) != 14 {
		return nonEmpty(doc, "—")
	}
	return doc[:2] + "." + doc[2:5] + "." + doc[5:8] + "/" + doc[8:12] + "-" + doc[12:]
}

func trimQuantity(q string) string {
	if d, err := decimal.NewFromString(q); err == nil {
		return d.String()
	}
	return q
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
