package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX renders doc as <dir>/<report id>.xlsx and returns the path.
func WriteXLSX(dir string, doc Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	f.SetCellValue(sheet, "A1", doc.LabName)
	f.SetCellValue(sheet, "A2", "Report "+doc.ReportID)
	f.SetCellValue(sheet, "A3", "Patient")
	f.SetCellValue(sheet, "B3", fmt.Sprintf("%s (%s)", doc.PatientName, doc.PatientID))
	f.SetCellValue(sheet, "A4", "Age / Gender")
	f.SetCellValue(sheet, "B4", fmt.Sprintf("%d / %s", doc.PatientAge, doc.PatientGender))
	f.SetCellValue(sheet, "A5", "Test")
	f.SetCellValue(sheet, "B5", doc.TestType)
	f.SetCellValue(sheet, "A6", "Status")
	f.SetCellValue(sheet, "B6", doc.Status)
	f.SetCellValue(sheet, "A7", "Date")
	f.SetCellValue(sheet, "B7", doc.CreatedAt.Format("02 Jan 2006"))

	headerRow := 9
	for i, h := range []string{"Parameter", "Value", "Unit", "Reference Range", "Interpretation"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(sheet, cell, h)
	}
	for r, row := range doc.Results {
		values := []string{row.Parameter, row.Value, row.Unit, row.ReferenceRange, row.Interpretation}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, headerRow+1+r)
			f.SetCellValue(sheet, cell, v)
		}
	}

	commentRow := headerRow + len(doc.Results) + 2
	for i, note := range doc.Comments {
		cell, _ := excelize.CoordinatesToCellName(1, commentRow+i)
		f.SetCellValue(sheet, cell, note.At.Format("02 Jan 2006 15:04")+"  "+note.Text)
	}

	path := filepath.Join(dir, doc.ReportID+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", err
	}
	return path, nil
}
