package parser

import "strings"

// Dialect is the number convention inferred from a statement's amount tokens
type Dialect struct {
	Format     NumberFormat
	Confidence float64 // 0.0-1.0, share of hints agreeing with Format
	Samples    int
}

// DetectNumberFormat inspects amount tokens and infers whether ',' or '.' is the
// decimal separator. Ambiguous samples (e.g. "500") are ignored; with no usable
// hints the fallback format is returned with confidence 0.5.
func DetectNumberFormat(samples []string, fallback NumberFormat) Dialect {
	dialect := Dialect{Format: fallback, Confidence: 0.5}

	commaDecimal := 0
	dotDecimal := 0
	for _, s := range samples {
		if strings.TrimSpace(s) == "" {
			continue
		}
		dialect.Samples++
		switch hint := analyzeAmountFormat(s); {
		case hint > 0:
			commaDecimal++
		case hint < 0:
			dotDecimal++
		}
	}

	switch {
	case commaDecimal > dotDecimal:
		dialect.Format = DominicanFormat
	case dotDecimal > commaDecimal:
		dialect.Format = USFormat
	}

	if total := commaDecimal + dotDecimal; total > 0 {
		winning := commaDecimal
		if dotDecimal > commaDecimal {
			winning = dotDecimal
		}
		dialect.Confidence = float64(winning) / float64(total)
	}

	return dialect
}

// analyzeAmountFormat returns >0 when ',' is the decimal separator, <0 when '.' is, 0 when ambiguous
func analyzeAmountFormat(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)

	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Both present: the last one is the decimal separator
		if lastComma > lastDot {
			return 1
		}
		return -1

	case lastComma >= 0:
		// 1,5 or 1,50 reads as a decimal; 1,500 could be a US thousands group
		if len(cleaned)-lastComma-1 <= 2 {
			return 1
		}
		return 0

	case lastDot >= 0:
		if len(cleaned)-lastDot-1 <= 2 {
			return -1
		}
		return 0
	}

	return 0
}
