package middleware

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.NewValidationError("id", "invalid session ID format")
	}
	return nil
}

// ValidateResumeToken validates the shape of a resume token (64 hex
// characters).
func ValidateResumeToken(token string) error {
	if len(token) != 64 {
		return model.NewValidationError("token", "invalid resume token format")
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return model.NewValidationError("token", "invalid resume token format")
		}
	}
	return nil
}

// ValidateTurnContent validates conversation turn content.
func ValidateTurnContent(content string) error {
	if len(content) == 0 {
		return model.NewValidationError("content", "cannot be empty")
	}
	if len(content) > 32768 {
		return model.NewValidationError("content", "exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return model.NewValidationError("content", "must be valid UTF-8")
	}
	return nil
}
