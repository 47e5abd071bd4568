package patient

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// HistoryEntry is one line of a patient's medical history, stored as part
// of a JSONB array on the patient row.
type HistoryEntry struct {
	Condition   string     `json:"condition"`
	DiagnosedAt *time.Time `json:"diagnosed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// EmergencyContact is stored as a JSONB document on the patient row.
type EmergencyContact struct {
	Name     string `json:"name,omitempty"`
	Relation string `json:"relation,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Patient maps to the patient table. PatientID is the human-readable
// identifier printed on reports; ID is the database key.
type Patient struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	LabID            uuid.UUID        `db:"lab_id" json:"lab_id"`
	PatientID        string           `db:"patient_id" json:"patient_id"`
	Name             string           `db:"name" json:"name"`
	Age              int              `db:"age" json:"age"`
	Gender           Gender           `db:"gender" json:"gender"`
	Phone            string           `db:"phone" json:"phone"`
	Email            string           `db:"email" json:"email,omitempty"`
	Address          string           `db:"address" json:"address,omitempty"`
	BloodGroup       string           `db:"blood_group" json:"blood_group,omitempty"`
	MedicalHistory   []HistoryEntry   `db:"medical_history" json:"medical_history"`
	EmergencyContact EmergencyContact `db:"emergency_contact" json:"emergency_contact"`
	RegisteredBy     uuid.UUID        `db:"registered_by" json:"registered_by"`
	Status           Status           `db:"status" json:"status"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// NewPatientID builds the human-readable identifier: P, two-digit year,
// two-digit month, four random digits. Uniqueness is not guaranteed by
// construction; the column's unique index catches the rare collision.
func NewPatientID(now time.Time) string {
	return fmt.Sprintf("P%s%04d", now.Format("0601"), rand.IntN(10000))
}

// ValidPhone reports whether s is exactly ten digits.
func ValidPhone(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
