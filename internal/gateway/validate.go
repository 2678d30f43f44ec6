package gateway

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError is bad caller input. It maps to 400 and is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// validateText checks one text against the length limit, counted in
// characters rather than bytes.
func validateText(text string, maxLen int) error {
	if strings.TrimSpace(text) == "" {
		return invalid("Text cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxLen {
		return invalid("Text too long (max %d characters)", maxLen)
	}
	return nil
}

func validateBatch(texts []string, maxLen, maxItems int) error {
	if len(texts) == 0 {
		return invalid("Texts list cannot be empty")
	}
	if len(texts) > maxItems {
		return invalid("Too many texts (max %d)", maxItems)
	}
	for i, t := range texts {
		if err := validateText(t, maxLen); err != nil {
			return invalid("texts[%d]: %s", i, err)
		}
	}
	return nil
}
