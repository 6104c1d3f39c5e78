package settlement

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"
)

var zipMagic = []byte("PK\x03\x04")

// IsXlsx reports whether an upload is an XLSX workbook, by extension or by its zip signature.
func IsXlsx(fileName string, raw []byte) bool {
	if strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		return true
	}
	return bytes.HasPrefix(raw, zipMagic)
}

// NormalizeFile dispatches an uploaded report to the XLSX or the delimited-text normalizer.
func NormalizeFile(fileName string, raw []byte, date time.Time) (*Extract, error) {
	if IsXlsx(fileName, raw) {
		return NormalizeXlsx(bytes.NewReader(raw), date)
	}
	return Normalize(raw, date)
}
