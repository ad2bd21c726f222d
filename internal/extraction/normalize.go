package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

var (
	numberPattern     = regexp.MustCompile(`\d[\d.,]*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// fold lowercases text, strips accents and maps compatibility characters ("m²" becomes "m2")
// so that regular expressions only deal with ASCII letters.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return collapse(strings.ToLower(out))
}

// collapse trims and squeezes whitespace.
func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// parseNumber reads a number written with either thousands or decimal separators, for
// example "3,500,000", "3.500.000", "1,234.56" or "120,5".
func parseNumber(raw string) (float64, bool) {
	s := numberPattern.FindString(raw)
	if s == "" {
		return 0, false
	}
	s = strings.TrimRight(s, ".,")

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// normalizeSingleSeparator decides whether sep groups thousands or marks decimals.
func normalizeSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	if len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

// normalizeCurrency maps currency codes and symbols onto ISO codes.
func normalizeCurrency(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	switch c {
	case "":
		return ""
	case "MN", "MXN", "$", "MX$", "MXP", "PESOS":
		return "MXN"
	case "US$", "USD", "U$S", "DOLARES", "DÓLARES":
		return "USD"
	case "EUR", "€":
		return "EUR"
	default:
		return c
	}
}

// currencyTokens are checked in order: more specific tokens first.
var currencyTokens = []struct {
	token    string
	currency string
}{
	{"us$", "USD"},
	{"usd", "USD"},
	{"u$s", "USD"},
	{"dolares", "USD"},
	{"eur", "EUR"},
	{"€", "EUR"},
	{"mxn", "MXN"},
	{"mn", "MXN"},
	{"pesos", "MXN"},
	{"$", "MXN"},
}

// parsePriceText reads a price such as "MN 3,500,000" or "US$ 250,000".
func parsePriceText(raw string) (float64, string, bool) {
	amount, ok := parseNumber(raw)
	if !ok || amount <= 0 {
		return 0, "", false
	}
	folded := fold(raw)
	for _, ct := range currencyTokens {
		if strings.Contains(folded, ct.token) {
			return amount, ct.currency, true
		}
	}
	return amount, "", true
}

// normalizeOperation maps a platform id or label onto sale, rent or temporary_rent.
func normalizeOperation(def *platform.Definition, raw string) string {
	if def != nil {
		if op := def.OperationType(raw); op != "" {
			return op
		}
	}
	return operationFromText(raw)
}

func operationFromText(raw string) string {
	s := fold(raw)
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "vacacional"), strings.Contains(s, "temporal"), strings.Contains(s, "temporary"):
		return domain.OperationTemporaryRent
	case strings.Contains(s, "renta"), strings.Contains(s, "alquiler"), strings.Contains(s, "rent"),
		strings.Contains(s, "lease"), strings.Contains(s, "arriendo"):
		return domain.OperationRent
	case strings.Contains(s, "venta"), strings.Contains(s, "sale"), strings.Contains(s, "sell"),
		strings.Contains(s, "compra"):
		return domain.OperationSale
	default:
		return ""
	}
}

var propertyTypeKeywords = []struct {
	keyword string
	kind    string
}{
	{"departamento", "apartment"},
	{"depto", "apartment"},
	{"apartment", "apartment"},
	{"condo", "apartment"},
	{"penthouse", "apartment"},
	{"casa", "house"},
	{"house", "house"},
	{"residencia", "house"},
	{"residence", "house"},
	{"terreno", "land"},
	{"lote", "land"},
	{"land", "land"},
	{"local", "commercial"},
	{"comercial", "commercial"},
	{"oficina", "office"},
	{"office", "office"},
	{"bodega", "warehouse"},
	{"nave", "warehouse"},
	{"warehouse", "warehouse"},
}

// normalizePropertyType maps a platform id or label onto a canonical property type.
// Unmapped numeric ids are dropped; unmapped labels are kept folded.
func normalizePropertyType(def *platform.Definition, raw string) string {
	if def != nil {
		if t := def.PropertyType(raw); t != "" {
			return t
		}
	}
	s := fold(raw)
	if s == "" {
		return ""
	}
	for _, kw := range propertyTypeKeywords {
		if strings.Contains(s, kw.keyword) {
			return kw.kind
		}
	}
	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return ""
	}
	return s
}

// parseCoordinate reads a signed decimal degree.
func parseCoordinate(raw string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(raw), `"'`), 64)
	if err != nil || n < -180 || n > 180 {
		return 0, false
	}
	return n, true
}
