package cart

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// CoerceQuantity turns whatever the UI or the scale sent into a finite
// non-negative weight. Anything unparseable is 0.
func CoerceQuantity(v any) float64 {
	var f float64

	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		f = parseFloat(x.String())
	case string:
		f = parseFloat(x)
	default:
		return 0
	}

	return clampQuantity(f)
}

func clampQuantity(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.Contains(s, ",") {
		var ok bool
		if s, ok = decimalComma(s); !ok {
			return 0
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// decimalComma rewrites "1,25" to "1.25". Scales configured for a Vietnamese
// locale use the comma as the decimal separator and never group digits, so
// exactly one comma followed by one to three digits is accepted and
// anything else ("1,250,000", "1.250,5", "1,") is rejected.
func decimalComma(s string) (string, bool) {
	i := strings.IndexByte(s, ',')
	whole, frac := s[:i], s[i+1:]
	if strings.ContainsAny(whole, ".,") || frac == "" || len(frac) > 3 {
		return "", false
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return whole + "." + frac, true
}

// FormatMoney renders a currency amount with two decimals.
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// FormatWeight renders kilograms with three decimals.
func FormatWeight(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.000"
	}
	return decimal.NewFromFloat(v).StringFixed(3)
}
