package prompt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalid matches every ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid generation request")

// DefaultBannedTerms are rejected anywhere in user text, case-insensitively.
var DefaultBannedTerms = []string{"violent", "violence", "sexual", "gore", "weapon", "drug", "hate"}

// DefaultMaxLength is the maximum prompt length in characters.
const DefaultMaxLength = 1000

// ValidationError reports a request that must be fixed by the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks user text against a length limit and banned terms.
type Validator struct {
	MaxLength   int
	BannedTerms []string
}

// DefaultValidator returns a Validator with the default limits.
func DefaultValidator() Validator {
	return Validator{MaxLength: DefaultMaxLength, BannedTerms: DefaultBannedTerms}
}

// Sanitize validates a required text field and returns it trimmed.
func (v Validator) Sanitize(field, input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", invalid(field, "cannot be empty")
	}
	if err := v.check(field, input); err != nil {
		return "", err
	}
	return trimmed, nil
}

// SanitizeOptional validates an optional text field. Empty input is allowed.
func (v Validator) SanitizeOptional(field, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	return v.Sanitize(field, input)
}

func (v Validator) check(field, input string) error {
	if v.MaxLength > 0 && utf8.RuneCountInString(input) > v.MaxLength {
		return invalid(field, "must be at most %d characters", v.MaxLength)
	}
	lower := strings.ToLower(input)
	for _, term := range v.BannedTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(lower, term) {
			return invalid(field, "inappropriate content detected: %s", term)
		}
	}
	return nil
}
