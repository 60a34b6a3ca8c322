package identity

import (
	"encoding/json"
	"strconv"
)

// serviceIDMatches compares a stored provider id against the incoming one.
// Historical records may hold the id as a JSON number (it was once stored
// numerically); a numeric-looking incoming id matches either form.
func serviceIDMatches(stored any, providerID string) bool {
	switch v := stored.(type) {
	case string:
		return v == providerID
	case json.Number:
		return v.String() == providerID
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64) == providerID
	case int:
		return strconv.Itoa(v) == providerID
	case int64:
		return strconv.FormatInt(v, 10) == providerID
	default:
		return false
	}
}
