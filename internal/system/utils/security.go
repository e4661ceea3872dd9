package utils

import (
	"html"
	"strings"
	"unicode"
)

// SanitizeString trims, strips control characters and escapes HTML in free text
func SanitizeString(input string) string {
	trimmed := strings.TrimSpace(input)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, trimmed)
	return html.EscapeString(cleaned)
}

// SanitizeOptional applies SanitizeString to an optional value, mapping blank input to nil
func SanitizeOptional(input *string) *string {
	if input == nil {
		return nil
	}
	cleaned := SanitizeString(*input)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
