package pairing

import (
	"strings"
	"unicode"
)

// MaxCodeLength bounds an operator-entered code or pre-shared key.
const MaxCodeLength = 128

// NormalizeCode prepares operator input for the family's verify step.
//
// Challenge codes lose the spaces and dashes people type to group digits.
// Pre-shared keys are only trimmed: they are compared byte for byte by the
// display, so inner punctuation and spaces are part of the secret.
// Control characters are rejected for every family.
func NormalizeCode(family Family, code string) (string, error) {
	code = strings.TrimSpace(code)

	var b strings.Builder
	for _, r := range code {
		switch {
		case family == FamilyChallengeCode && (r == ' ' || r == '-'):
			continue
		case unicode.IsControl(r):
			return "", ErrInvalidCode
		case family == FamilyChallengeCode && unicode.IsSpace(r):
			return "", ErrInvalidCode
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" || len(out) > MaxCodeLength {
		return "", ErrInvalidCode
	}
	return out, nil
}
