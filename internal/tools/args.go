package tools

import (
	"encoding/json"
	"strconv"
	"strings"
)

// stringArg returns args[key] as trimmed text. Numbers are formatted
// without a trailing ".0" so a model sending 14 for "14" still works.
func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// floatArg returns args[key] as a number. Strings are accepted in
// either "30.50" or Brazilian "30,50" / "1.234,56" form.
func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		return parseAmount(v)
	}
	return 0, false
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// money renders a BRL amount the way every reply does.
func money(v float64) string {
	return "R$ " + strconv.FormatFloat(v, 'f', 2, 64)
}
