package consentrequest

import (
	"fmt"

	"github.com/carebridge/consent-api/internal/scope"
	"github.com/carebridge/consent-api/internal/system/utils"
)

const (
	maxPurposeLength = 1024
	maxMessageLength = 2048
	maxReasonLength  = 1024
)

// createInput is a create request after validation and normalisation.
type createInput struct {
	patientID    string
	doctorID     string
	purpose      string
	scopes       []scope.RecordType
	durationDays int
	message      *string
}

func validateCreate(patientID, doctorID, purpose string, scopes []string, durationDays int,
	message *string) (*createInput, error) {
	if err := utils.ValidateID("patientId", patientID); err != nil {
		return nil, err
	}
	if err := utils.ValidateID("doctorId", doctorID); err != nil {
		return nil, err
	}
	if patientID == doctorID {
		return nil, fmt.Errorf("a doctor cannot request consent from themselves")
	}

	purpose = utils.SanitizeString(purpose)
	if err := utils.ValidateRequired("purpose", purpose); err != nil {
		return nil, err
	}
	if len(purpose) > maxPurposeLength {
		return nil, fmt.Errorf("purpose too long (max %d chars)", maxPurposeLength)
	}

	normalized, err := scope.Normalize(scopes)
	if err != nil {
		return nil, err
	}

	if durationDays <= 0 {
		return nil, fmt.Errorf("durationDays must be a positive integer")
	}

	message = utils.SanitizeOptional(message)
	if message != nil && len(*message) > maxMessageLength {
		return nil, fmt.Errorf("message too long (max %d chars)", maxMessageLength)
	}

	return &createInput{
		patientID:    patientID,
		doctorID:     doctorID,
		purpose:      purpose,
		scopes:       normalized,
		durationDays: durationDays,
		message:      message,
	}, nil
}

func validateReason(reason *string) (*string, error) {
	reason = utils.SanitizeOptional(reason)
	if reason != nil && len(*reason) > maxReasonLength {
		return nil, fmt.Errorf("reason too long (max %d chars)", maxReasonLength)
	}
	return reason, nil
}

func validateAdditionalDays(days int) error {
	if days <= 0 {
		return fmt.Errorf("additionalDays must be a positive integer")
	}
	return nil
}
