package utils

import (
	"fmt"
	"strings"
)

// ParsePairs parses name=value items into a map. Values may themselves
// contain '='; names may not be empty.
// Example: ["leafy-spines=https://example.com/ls.git"] -> {"leafy-spines": "https://example.com/ls.git"}
func ParsePairs(items []string) (map[string]string, error) {
	result := make(map[string]string, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid format, expected name=value: %s", item)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return nil, fmt.Errorf("empty name in: %s", item)
		}
		if value == "" {
			return nil, fmt.Errorf("empty value in: %s", item)
		}
		if _, dup := result[key]; dup {
			return nil, fmt.Errorf("%s given more than once", key)
		}
		result[key] = value
	}
	return result, nil
}
