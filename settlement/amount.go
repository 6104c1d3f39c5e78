package settlement

import (
	"errors"
	"strings"

	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/shopspring/decimal"
)

var (
	errEmptyAmount     = errors.New("empty amount")
	errAmountPrecision = errors.New("amount has more than two decimal places")
	errAmbiguousAmount = errors.New("amount has three digits after a decimal point")
	hundred            = decimal.NewFromInt(100)
)

// ParseAmount converts a settlement amount into minor currency units without going through floats.
// It accepts Brazilian ("1.234,56", "R$ 10,00") and plain ("1234.56") notation; a leading minus
// or surrounding parentheses mark negatives. A single dot followed by three digits is read as
// grouping ("1.234" is 1234) except after a zero integer part, where it is rejected.
func ParseAmount(raw string) (int64, error) {
	return parseAmount(raw, false)
}

// parseAmount is ParseAmount for a report known to use "." as its decimal separator when
// dotDecimal is set. There a single dot followed by three digits cannot be grouping and the
// amount is rejected.
func parseAmount(raw string, dotDecimal bool) (int64, error) {
	s, negative := stripAmount(raw)
	if s == "" {
		return 0, errEmptyAmount
	}
	if intPart, frac, ok := singleDotSplit(s); ok && len(frac) == 3 {
		if dotDecimal || strings.TrimLeft(intPart, "0") == "" {
			return 0, errAmbiguousAmount
		}
	}

	value, err := utils.ParseDecimal(canonicalDecimal(s))
	if err != nil {
		return 0, err
	}
	if value.IsNegative() {
		// a sign survived inside the number, e.g. "--1"
		return 0, errors.New("invalid amount sign")
	}

	minor := value.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, errAmountPrecision
	}
	if negative {
		minor = minor.Neg()
	}
	return minor.IntPart(), nil
}

// stripAmount drops currency markers, blanks and the sign from raw.
func stripAmount(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("R$", "", "r$", "", " ", "", "\u00a0", "").Replace(s)

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	return s, negative
}

// singleDotSplit splits digits around the only separator of s when that separator is a dot.
func singleDotSplit(s string) (string, string, bool) {
	if strings.Count(s, ".") != 1 || strings.Contains(s, ",") {
		return "", "", false
	}
	intPart, frac, _ := strings.Cut(s, ".")
	if !allDigits(intPart) || frac == "" || !allDigits(frac) {
		return "", "", false
	}
	return intPart, frac, true
}

// usesDotDecimal reports whether cell is written with "." as the decimal separator, as in "10.5"
// or "1234.56".
func usesDotDecimal(cell string) bool {
	s, _ := stripAmount(cell)
	_, frac, ok := singleDotSplit(s)
	return ok && len(frac) <= 2
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// canonicalDecimal rewrites s so that "." is the only decimal separator and no grouping remains.
func canonicalDecimal(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			// 1.234.567 or 1.234: grouping, currencies never carry three decimals
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}
