package report

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Status is the report lifecycle state. Transitions are forward-only along
// pending, in_progress, completed, verified, delivered.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
	StatusDelivered  Status = "delivered"
)

var statusOrder = map[Status]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusVerified:   3,
	StatusDelivered:  4,
}

func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// CanTransition reports whether moving from s to next is a legal forward
// step. Skipping intermediate states is allowed; moving backwards is not.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

type Priority string

const (
	PriorityRoutine   Priority = "routine"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityRoutine, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

// DeliveryMethod is how a delivered report reached the patient.
type DeliveryMethod string

const (
	DeliveryEmail  DeliveryMethod = "email"
	DeliveryPrint  DeliveryMethod = "print"
	DeliveryPortal DeliveryMethod = "portal"
)

func (d DeliveryMethod) Valid() bool {
	switch d {
	case DeliveryEmail, DeliveryPrint, DeliveryPortal:
		return true
	}
	return false
}

// Result is one measured parameter, stored as part of a JSONB array.
type Result struct {
	Parameter      string `json:"parameter"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Interpretation string `json:"interpretation,omitempty"`
}

// Comment is appended, never replaced. Attribution and timestamp are set
// server-side at submission time.
type Comment struct {
	UserID    uuid.UUID `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment references a stored upload.
type Attachment struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Report maps to the report table. Version guards concurrent updates: every
// write carries the version it read, and a stale write fails instead of
// silently clobbering a parallel status change or comment.
type Report struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	LabID          uuid.UUID      `db:"lab_id" json:"lab_id"`
	ReportID       string         `db:"report_id" json:"report_id"`
	PatientID      uuid.UUID      `db:"patient_id" json:"patient_id"`
	TestType       string         `db:"test_type" json:"test_type"`
	Category       string         `db:"category" json:"category,omitempty"`
	Priority       Priority       `db:"priority" json:"priority"`
	Status         Status         `db:"status" json:"status"`
	AssignedTo     *uuid.UUID     `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedBy      uuid.UUID      `db:"created_by" json:"created_by"`
	Results        []Result       `db:"results" json:"results"`
	Comments       []Comment      `db:"comments" json:"comments"`
	Attachments    []Attachment   `db:"attachments" json:"attachments"`
	VerifiedBy     *uuid.UUID     `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time     `db:"verified_at" json:"verified_at,omitempty"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	DeliveredAt    *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	DeliveryMethod DeliveryMethod `db:"delivery_method" json:"delivery_method,omitempty"`
	Version        int            `db:"version" json:"version"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// TurnaroundHours is the whole hours from creation to delivery, nil while
// the report has not been delivered.
func (r *Report) TurnaroundHours() *int {
	if r.Status != StatusDelivered || r.DeliveredAt == nil {
		return nil
	}
	h := int(r.DeliveredAt.Sub(r.CreatedAt).Hours())
	return &h
}

// NewReportID builds the human-readable identifier: TR, six-digit date,
// three random digits. Collisions are caught by the column's unique index.
func NewReportID(now time.Time) string {
	return fmt.Sprintf("TR%s%03d", now.Format("060102"), rand.IntN(1000))
}
