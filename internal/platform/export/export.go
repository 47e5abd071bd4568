// Package export renders lab reports as downloadable artifacts. Files are
// written under a configured directory and named by report identifier, so
// re-exporting a report replaces its previous artifact.
package export

import (
	"time"
)

// Document is the renderer-neutral view of a report. The report service
// assembles it from the report, its patient and the owning lab's branding.
type Document struct {
	ReportID string

	LabName string
	Header  string
	Footer  string

	PatientName   string
	PatientID     string
	PatientAge    int
	PatientGender string

	TestType string
	Category string
	Priority string
	Status   string

	Results  []Row
	Comments []Note

	CreatedAt  time.Time
	VerifiedAt *time.Time
}

// Row is one measured parameter.
type Row struct {
	Parameter      string
	Value          string
	Unit           string
	ReferenceRange string
	Interpretation string
}

// Note is one report comment.
type Note struct {
	Text string
	At   time.Time
}
