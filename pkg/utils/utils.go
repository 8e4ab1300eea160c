package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MapToPretty renders v as indented JSON, or the empty string if it cannot
// be encoded.
func MapToPretty(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// PickFirstNonEmpty picks the first non-empty value from a list of strings.
// If all values are empty, returns the empty string.
func PickFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// RandomHex returns n random lowercase hex characters, n <= 32.
func RandomHex(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// ValidateAccountName checks that name is usable as a system login: 1-32
// characters of lowercase letters, digits, '_', '-' and '.', starting with a
// letter or underscore.
func ValidateAccountName(name string) error {
	if len(name) < 1 || len(name) > 32 {
		return fmt.Errorf("name must be between 1 and 32 characters")
	}

	first := name[0]
	if !((first >= 'a' && first <= 'z') || first == '_') {
		return fmt.Errorf("name must start with a lowercase letter or underscore")
	}

	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.') {
			return fmt.Errorf("name can only contain lowercase letters, digits, '-', '_' and '.'")
		}
	}
	return nil
}
