package identity

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Letters and combining marks of any script, digits, underscore and
	// whitespace. RE2's \w is ASCII-only.
	nameRe  = regexp.MustCompile(`^[\p{L}\p{M}\p{N}_\s]+$`)
	labelRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// NormalizeName trims name and validates it.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < 2 {
		return "", fmt.Errorf("%w: must be at least 2 characters", ErrInvalidName)
	}
	if !nameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q contains unsupported characters", ErrInvalidName, name)
	}
	return name, nil
}

// NormalizeLabel trims label, substitutes DefaultLabel when empty and
// validates it.
func NormalizeLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultLabel, nil
	}
	if !labelRe.MatchString(label) {
		return "", fmt.Errorf("%w: %q must be letters, digits or underscore", ErrInvalidLabel, label)
	}
	return label, nil
}

func validateEmbedding(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidEmbedding)
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: non-finite value at %d", ErrInvalidEmbedding, i)
		}
	}
	return nil
}
