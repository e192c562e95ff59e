// Package report renders a case record into a downloadable PDF document.
package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/Black-prog/CanScan/internal/repository"
)

// FilenamePrefix is prepended to the patient name to build the download
// filename. Repeated patient names produce identical filenames; that is
// acceptable for this scope.
const FilenamePrefix = "Analysis_Report_"

// ImageSource resolves stored image names to on-disk paths. The renderer
// only needs to locate the source image and tolerate its absence.
type ImageSource interface {
	Path(name string) string
	Exists(name string) bool
}

// Generate renders the fixed single-page report layout for one record and
// returns the document bytes plus the suggested download filename.
//
// A record whose source image has since been deleted still renders; the
// image block is replaced by a textual placeholder.
func Generate(record *repository.CaseRecord, images ImageSource) ([]byte, string, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(190, 10, "Analysis Result", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(190, 10, fmt.Sprintf("Patient: %s", record.PatientName), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(190, 10, fmt.Sprintf("Date: %s", record.AnalyzedAt), "", 1, "L", false, 0, "")
	pdf.CellFormat(190, 10, fmt.Sprintf("Predicted Condition: %s", record.Diagnosis), "", 1, "L", false, 0, "")

	if record.ImagePath != "" && images.Exists(record.ImagePath) {
		pdf.ImageOptions(images.Path(record.ImagePath), 10, 80, 100, 0, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
	} else {
		pdf.CellFormat(190, 10, "Image not available", "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("%s%s.pdf", FilenamePrefix, record.PatientName), nil
}
