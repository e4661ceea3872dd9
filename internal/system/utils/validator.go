package utils

import (
	"fmt"
	"strings"
)

// maxIDLength bounds principal and resource identifiers
const maxIDLength = 255

// ValidateRequired validates a field is not empty
func ValidateRequired(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateID validates an opaque principal or resource identifier
func ValidateID(fieldName, id string) error {
	if err := ValidateRequired(fieldName, id); err != nil {
		return err
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s too long (max %d chars)", fieldName, maxIDLength)
	}
	return nil
}

// ValidatePagination validates limit and offset
func ValidatePagination(limit, offset, maxLimit int) error {
	if limit < 1 || limit > maxLimit {
		return fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	if offset < 0 {
		return fmt.Errorf("offset must be non-negative")
	}
	return nil
}
