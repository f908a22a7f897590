package utils

import "strings"

// DeepTrim strips surrounding whitespace from every string in a decoded JSON
// value, descending into objects and arrays. Map keys are left untouched.
// Other values are returned as they are.
func DeepTrim(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = DeepTrim(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = DeepTrim(item)
		}
		return out
	default:
		return v
	}
}
