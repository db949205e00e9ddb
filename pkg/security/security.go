package security

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdziat/serial-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeLength is the maximum length for job types
	MaxJobTypeLength = 255

	// MaxJobNameLength is the maximum length for job names
	MaxJobNameLength = 255

	// MaxJobArgsSize is the maximum size in bytes for job arguments (1MB)
	MaxJobArgsSize = 1 << 20

	// MaxRetries is the hard limit for unit-of-work retry attempts
	MaxRetries = 100

	// MaxConcurrency is the hard limit for concurrently running jobs
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validJobType matches alphanumeric, hyphens, underscores, colons and dots
var validJobType = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.:]*$`)

// ValidateJobType validates a job type
func ValidateJobType(jobType string) error {
	if jobType == "" {
		return core.ErrInvalidJobType
	}
	if len(jobType) > MaxJobTypeLength {
		return core.ErrJobTypeTooLong
	}
	if !validJobType.MatchString(jobType) {
		return core.ErrInvalidJobType
	}
	return nil
}

// ValidateJobName validates an optional job name. Names may hold any
// printable text but no control characters or surrounding whitespace.
func ValidateJobName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > MaxJobNameLength {
		return core.ErrJobNameTooLong
	}
	if !utf8.ValidString(name) || strings.TrimSpace(name) != name {
		return core.ErrInvalidJobName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return core.ErrInvalidJobName
		}
	}
	return nil
}

// ValidateRequest validates everything about a request that can be checked
// without storage.
func ValidateRequest(req *core.JobRequest) error {
	if err := ValidateJobType(req.Type); err != nil {
		return err
	}
	if err := ValidateJobName(req.Name); err != nil {
		return err
	}
	if len(req.Arguments) > MaxJobArgsSize {
		return core.ErrJobArgsTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
