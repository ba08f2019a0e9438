package revocation

import "strings"

const (
	minReasonLen = 10
	maxReasonLen = 1000
)

// ValidateReason checks a free-text revocation reason. The reason is trimmed
// before the length check; it is never rewritten beyond that. Length
// violations report INVALID_REASON, control characters (below 0x20, or DEL)
// report INVALID_INPUT. Returns nil for a valid reason.
func ValidateReason(reason string) *Error {
	trimmed := strings.TrimSpace(reason)
	n := len([]rune(trimmed))
	if n < minReasonLen || n > maxReasonLen {
		return newError(CodeInvalidReason,
			"Revocation reason must be between 10 and 1000 characters")
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7F {
			return newError(CodeInvalidInput,
				"Revocation reason must not contain control characters")
		}
	}
	return nil
}
