package settlement

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/closing_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// centTolerance absorbs binary floating point noise in numeric spreadsheet cells.
var centTolerance = decimal.New(1, -6)

// NormalizeXlsx reads the first worksheet of an XLSX settlement report. The rows go through the
// same normalization as the delimited-text report.
func NormalizeXlsx(r io.Reader, date time.Time) (*Extract, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty file", models.ErrMalformedExtract)
	}

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open workbook: %v", models.ErrMalformedExtract, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", models.ErrMalformedExtract)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read sheet: %v", models.ErrMalformedExtract, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty sheet", models.ErrMalformedExtract)
	}

	extract, err := normalizeRows(rows, date, normalizeNumericCell)
	if err != nil {
		return nil, err
	}
	extract.Sha256 = checksum(raw)
	return extract, nil
}

// normalizeNumericCell renders a raw numeric amount cell with two decimals when it is a whole
// number of cents up to float noise. Sub-cent values come back empty so the row is skipped
// instead of misread as digit grouping.
func normalizeNumericCell(value string) string {
	d, err := decimal.NewFromString(value)
	if err != nil || d.Exponent() >= -2 {
		return value
	}
	rounded := d.Round(2)
	if d.Sub(rounded).Abs().LessThan(centTolerance) {
		return rounded.StringFixed(2)
	}
	return ""
}
