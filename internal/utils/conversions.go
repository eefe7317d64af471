package utils

import "fmt"

// ToStringMap flattens a loosely typed metadata object into string values,
// dropping nested structures.
func ToStringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool, int, int64, float64:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
