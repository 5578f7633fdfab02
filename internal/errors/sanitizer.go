// Package errors redacts credentials from error messages and log strings.
// The only secret this tool handles is the Telegram bot token, but inputs and
// paths are free text and may carry other header-style secrets.
package errors

import (
	"fmt"
	"regexp"
	"strings"
)

var credentialPatterns = []*regexp.Regexp{
	// Telegram bot token, also as it appears inside Bot API URLs (/bot<token>/method)
	regexp.MustCompile(`\d{8,12}:[a-zA-Z0-9_-]{30,}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),
	regexp.MustCompile(`(?i)authorization[:\s]+[^\s]+`),
	regexp.MustCompile(`(?i)api[_-]?key[=:][^\s&"']+`),
	regexp.MustCompile(`(?i)token[=:][^\s&"']+`),
}

const redactedPlaceholder = "[REDACTED]"

// SanitizeError returns err with any credentials in its message redacted.
// The original error stays reachable through errors.Unwrap.
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}

	sanitized := SanitizeString(err.Error())
	if sanitized == err.Error() {
		return err
	}

	return &sanitizedError{
		original:  err,
		sanitized: sanitized,
	}
}

// SanitizeString redacts credential patterns from a string.
func SanitizeString(s string) string {
	result := s
	for _, pattern := range credentialPatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// Wrapf is fmt.Errorf("...: %w") for errors that may embed a credential,
// e.g. failures returned by the Telegram client.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, SanitizeError(err))
}

type sanitizedError struct {
	original  error
	sanitized string
}

func (e *sanitizedError) Error() string {
	return e.sanitized
}

func (e *sanitizedError) Unwrap() error {
	return e.original
}

// MaskCredential partially masks a credential for display.
// A bot token "123456789:AAE..." becomes "123456789:***...".
func MaskCredential(s string) string {
	if len(s) < 10 {
		return strings.Repeat("*", len(s))
	}

	if idx := strings.Index(s, ":"); idx > 0 && idx <= 12 {
		return s[:idx] + ":***..."
	}

	return s[:4] + "***..."
}
