// Package scope defines the fixed vocabulary of clinical data categories a
// consent request can name and the access types a grant confers.
package scope

import (
	"fmt"
	"strings"
)

// RecordType is a category of clinical data a doctor can ask for.
type RecordType string

// Request side scopes.
const (
	RecordTypeLabTest      RecordType = "lab_test"
	RecordTypeImaging      RecordType = "imaging"
	RecordTypePrescription RecordType = "prescription"
	RecordTypeConsultation RecordType = "consultation"
	RecordTypeVaccination  RecordType = "vaccination"
	RecordTypeOther        RecordType = "other"
)

// AccessType is the grant side permission a RecordType maps to.
type AccessType string

// Grant side scopes.
const (
	AccessTypeViewRecords           AccessType = "view_records"
	AccessTypeViewPrescriptions     AccessType = "view_prescriptions"
	AccessTypeViewConsultationNotes AccessType = "view_consultation_notes"
	AccessTypeAll                   AccessType = "all"
)

var recordTypes = []RecordType{
	RecordTypeLabTest,
	RecordTypeImaging,
	RecordTypePrescription,
	RecordTypeConsultation,
	RecordTypeVaccination,
	RecordTypeOther,
}

var accessTypes = []AccessType{
	AccessTypeViewRecords,
	AccessTypeViewPrescriptions,
	AccessTypeViewConsultationNotes,
	AccessTypeAll,
}

// RecordTypes returns the request side vocabulary in display order.
func RecordTypes() []RecordType {
	out := make([]RecordType, len(recordTypes))
	copy(out, recordTypes)
	return out
}

// AccessTypes returns the grant side vocabulary in display order.
func AccessTypes() []AccessType {
	out := make([]AccessType, len(accessTypes))
	copy(out, accessTypes)
	return out
}

// IsValid reports whether r is part of the vocabulary.
func (r RecordType) IsValid() bool {
	for _, known := range recordTypes {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRecordType normalises case and whitespace and rejects unknown values.
func ParseRecordType(s string) (RecordType, error) {
	r := RecordType(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown record type: %q", s)
	}
	return r, nil
}

// ParseAccessType normalises case and whitespace and rejects unknown values.
func ParseAccessType(s string) (AccessType, error) {
	a := AccessType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range accessTypes {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown access type: %q", s)
}

// ToAccessType maps a record type to the access it confers. The mapping is
// total: anything without a dedicated access type, unknown values included,
// falls back to view_records.
func ToAccessType(r RecordType) AccessType {
	switch r {
	case RecordTypePrescription:
		return AccessTypeViewPrescriptions
	case RecordTypeConsultation:
		return AccessTypeViewConsultationNotes
	default:
		return AccessTypeViewRecords
	}
}

// Normalize parses raw scopes, drops duplicates and keeps first-seen order.
// It fails on an empty set or on any unknown value.
func Normalize(raw []string) ([]RecordType, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}

	seen := make(map[RecordType]struct{}, len(raw))
	out := make([]RecordType, 0, len(raw))
	for _, s := range raw {
		r, err := ParseRecordType(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// Strings converts record types to their wire values.
func Strings(in []RecordType) []string {
	out := make([]string, len(in))
	for i, r := range in {
		out[i] = string(r)
	}
	return out
}
