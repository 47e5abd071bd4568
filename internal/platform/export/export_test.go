package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleDocument() Document {
	verified := time.Date(2026, time.April, 2, 14, 30, 0, 0, time.UTC)
	return Document{
		ReportID:      "TR260401123",
		LabName:       "Acme Diagnostics",
		Header:        "NABL accredited",
		Footer:        "Not valid without signature",
		PatientName:   "Ravi Kumar",
		PatientID:     "P26031234",
		PatientAge:    34,
		PatientGender: "male",
		TestType:      "Complete Blood Count",
		Status:        "verified",
		Results: []Row{
			{Parameter: "Hemoglobin", Value: "13.2", Unit: "g/dL", ReferenceRange: "12-16", Interpretation: "normal"},
			{Parameter: "WBC", Value: "11.4", Unit: "10^3/uL", ReferenceRange: "4-11", Interpretation: "high"},
		},
		Comments:   []Note{{Text: "repeat in 2 weeks", At: verified}},
		CreatedAt:  time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC),
		VerifiedAt: &verified,
	}
}

func TestWritePDF(t *testing.T) {
	dir := t.TempDir()
	path, err := WritePDF(dir, sampleDocument())
	if err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if filepath.Base(path) != "TR260401123.pdf" {
		t.Errorf("file named %s, want TR260401123.pdf", filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Error("empty pdf written")
	}
}

func TestWriteXLSX(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteXLSX(dir, sampleDocument())
	if err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	if filepath.Base(path) != "TR260401123.xlsx" {
		t.Errorf("file named %s, want TR260401123.xlsx", filepath.Base(path))
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("spreadsheet not written: %v", err)
	}
}

func TestWriteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports", "nested")
	if _, err := WritePDF(dir, sampleDocument()); err != nil {
		t.Fatalf("WritePDF into missing directory: %v", err)
	}
}
