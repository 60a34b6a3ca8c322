package accounts

import (
	"encoding/json"
	"strconv"
)

// serviceIDString renders a provider-assigned id as its canonical string
// form. Providers have historically delivered ids as JSON numbers; those
// normalize to the same text a string id would carry.
func serviceIDString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", false
		}
		return id, true
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
