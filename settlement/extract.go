// Package settlement turns the card network's settlement report into normalized network
// transactions. It never touches storage.
package settlement

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxPreambleRows is how far down the report the header row may appear.
const maxPreambleRows = 20

type column int

const (
	colReference column = iota
	colGross
	colNet
	colBrand
	colModality
	colInstallments
	colSaleDate
)

var mandatoryColumns = []column{colReference, colGross, colNet}

// headerAliases maps normalized header text to the column it names.
var headerAliases = map[string]column{
	"nsu":                    colReference,
	"nsu/doc":                colReference,
	"nsu doc":                colReference,
	"codigo da transacao":    colReference,
	"id da transacao":        colReference,
	"tid":                    colReference,
	"referencia":             colReference,
	"external reference":     colReference,
	"valor bruto":            colGross,
	"valor da venda":         colGross,
	"gross amount":           colGross,
	"valor liquido":          colNet,
	"net amount":             colNet,
	"bandeira":               colBrand,
	"brand":                  colBrand,
	"forma de pagamento":     colModality,
	"modalidade":             colModality,
	"produto":                colModality,
	"tipo":                   colModality,
	"modality":               colModality,
	"parcelas":               colInstallments,
	"quantidade de parcelas": colInstallments,
	"installments":           colInstallments,
	"data da venda":          colSaleDate,
	"data":                   colSaleDate,
	"sale date":              colSaleDate,
}

var saleDateLayouts = []string{
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Extract is the normalized content of one settlement report for one date.
type Extract struct {
	Date         time.Time
	Transactions []models.NetworkTransaction
	// Rows counts non-blank data rows below the header.
	Rows int
	// Skipped counts rows dropped for a missing reference or a missing/non-numeric amount.
	Skipped int
	// OtherDate counts rows whose sale date belongs to another day.
	OtherDate int
	Sha256    string
}

// Normalize parses a delimited-text settlement report. The delimiter is detected among
// ";", tab and ",". It fails with models.ErrMalformedExtract when the content is empty or
// no header row carries every mandatory column.
func Normalize(raw []byte, date time.Time) (*Extract, error) {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty file", models.ErrMalformedExtract)
	}

	for _, delimiter := range []rune{';', '\t', ','} {
		records, err := readDelimited(raw, delimiter)
		if err != nil {
			continue
		}
		extract, err := NormalizeRows(records, date)
		if err == nil {
			extract.Sha256 = checksum(raw)
			return extract, nil
		}
	}
	return nil, fmt.Errorf("%w: no header with reference, gross and net amount columns", models.ErrMalformedExtract)
}

// NormalizeRows normalizes an already split report, header included.
func NormalizeRows(records [][]string, date time.Time) (*Extract, error) {
	return normalizeRows(records, date, nil)
}

// normalizeRows applies amountCell, when set, to gross and net cells before parsing them.
func normalizeRows(records [][]string, date time.Time, amountCell func(string) string) (*Extract, error) {
	if amountCell == nil {
		amountCell = func(v string) string { return v }
	}
	headerIdx, columns, ok := findHeader(records)
	if !ok {
		return nil, fmt.Errorf("%w: no header with reference, gross and net amount columns", models.ErrMalformedExtract)
	}

	dotDecimal := reportUsesDotDecimal(records[headerIdx+1:], columns, amountCell)

	extract := &Extract{
		Date:         utils.DateOnly(date),
		Transactions: []models.NetworkTransaction{},
	}
	for _, record := range records[headerIdx+1:] {
		if isBlank(record) {
			continue
		}
		extract.Rows++

		if saleDate, ok := parseSaleDate(cell(record, columns, colSaleDate)); ok && !saleDate.Equal(extract.Date) {
			extract.OtherDate++
			continue
		}

		reference := strings.TrimSpace(cell(record, columns, colReference))
		gross, grossErr := parseAmount(amountCell(cell(record, columns, colGross)), dotDecimal)
		net, netErr := parseAmount(amountCell(cell(record, columns, colNet)), dotDecimal)
		if reference == "" || grossErr != nil || netErr != nil {
			extract.Skipped++
			continue
		}

		installments := parseInstallments(cell(record, columns, colInstallments))
		extract.Transactions = append(extract.Transactions, models.NetworkTransaction{
			Sequence:          len(extract.Transactions) + 1,
			ExternalReference: reference,
			CardBrand:         strings.TrimSpace(cell(record, columns, colBrand)),
			Modality:          classifyModality(cell(record, columns, colModality), installments),
			Installments:      installments,
			GrossAmount:       gross,
			NetAmount:         net,
		})
	}
	return extract, nil
}

// reportUsesDotDecimal reports whether any amount cell of rows is written with "." as the decimal
// separator. In such a report "10.500" cannot be read as ten thousand five hundred.
func reportUsesDotDecimal(rows [][]string, columns map[column]int, amountCell func(string) string) bool {
	for _, record := range rows {
		for _, col := range []column{colGross, colNet} {
			if usesDotDecimal(amountCell(cell(record, columns, col))) {
				return true
			}
		}
	}
	return false
}

func readDelimited(raw []byte, delimiter rune) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	// leading-space trimming would swallow empty tab-separated fields
	reader.TrimLeadingSpace = delimiter != '\t'
	return reader.ReadAll()
}

func findHeader(records [][]string) (int, map[column]int, bool) {
	limit := min(len(records), maxPreambleRows+1)
	for i := 0; i < limit; i++ {
		columns := map[column]int{}
		for idx, value := range records[i] {
			col, ok := headerAliases[normalizeHeader(value)]
			if !ok {
				continue
			}
			if _, seen := columns[col]; !seen {
				columns[col] = idx
			}
		}
		if hasMandatory(columns) {
			return i, columns, true
		}
	}
	return 0, nil, false
}

func hasMandatory(columns map[column]int) bool {
	for _, col := range mandatoryColumns {
		if _, ok := columns[col]; !ok {
			return false
		}
	}
	return true
}

// normalizeHeader folds case, accents, currency markers and punctuation so
// "Valor Líquido (R$)" and "valor liquido" compare equal.
func normalizeHeader(value string) string {
	folded := foldText(value)
	folded = strings.ReplaceAll(folded, "r$", "")
	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '/':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func foldText(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

func cell(record []string, columns map[column]int, col column) string {
	idx, ok := columns[col]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseSaleDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range saleDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return utils.DateOnly(t), true
		}
	}
	// spreadsheet serial date
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 20000 && serial < 80000 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return utils.DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// parseInstallments reads "6" or the "2/6" installment-of-total notation; anything else is 1.
func parseInstallments(raw string) int {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func classifyModality(raw string, installments int) models.PaymentMethod {
	key := foldText(raw)
	switch {
	case strings.Contains(key, "deb"):
		return models.PaymentMethodDebit
	case strings.Contains(key, "parcel") || installments > 1:
		return models.PaymentMethodCreditInstallments
	default:
		return models.PaymentMethodCreditSingle
	}
}

func checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
