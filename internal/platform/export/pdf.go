package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
)

// WritePDF renders doc as <dir>/<report id>.pdf and returns the path.
func WritePDF(dir string, doc Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, doc.LabName, "", 1, "C", false, 0, "")
	if doc.Header != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 6, doc.Header, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Report "+doc.ReportID, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(95, 6, fmt.Sprintf("Patient: %s (%s)", doc.PatientName, doc.PatientID), "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, fmt.Sprintf("Age/Gender: %d / %s", doc.PatientAge, doc.PatientGender), "", 1, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Test: "+doc.TestType, "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Status: "+doc.Status, "", 1, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Date: "+doc.CreatedAt.Format("02 Jan 2006"), "", 0, "L", false, 0, "")
	if doc.VerifiedAt != nil {
		pdf.CellFormat(95, 6, "Verified: "+doc.VerifiedAt.Format("02 Jan 2006 15:04"), "", 1, "L", false, 0, "")
	} else {
		pdf.Ln(6)
	}
	pdf.Ln(4)

	// Results table.
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	widths := []float64{55, 30, 20, 45, 40}
	headers := []string{"Parameter", "Value", "Unit", "Reference Range", "Interpretation"}
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range doc.Results {
		cells := []string{row.Parameter, row.Value, row.Unit, row.ReferenceRange, row.Interpretation}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 7, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(doc.Comments) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 6, "Comments", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, note := range doc.Comments {
			pdf.MultiCell(0, 5, note.At.Format("02 Jan 2006 15:04")+"  "+note.Text, "", "L", false)
		}
	}

	if doc.Footer != "" {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 5, doc.Footer, "", 1, "C", false, 0, "")
	}

	path := filepath.Join(dir, doc.ReportID+".pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", err
	}
	return path, nil
}
