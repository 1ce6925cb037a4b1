// Package uuid generates the identifiers used for records and queue items.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Prefixed generates "<prefix>_<uuid v4>", e.g. "attendance_6ba7b810-...".
// The prefix keeps identifiers readable in exports and queue listings.
func Prefixed(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}

// SplitPrefixed separates an identifier produced by Prefixed.
func SplitPrefixed(id string) (prefix, raw string, err error) {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return "", "", fmt.Errorf("identifier %q has no prefix", id)
	}
	prefix, raw = id[:i], id[i+1:]
	if err := Validate(raw); err != nil {
		return "", "", err
	}
	return prefix, raw, nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
