package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData carries the fields rendered onto one certificate.
type CertificateData struct {
	AuthorName string
	Title      string
	QRID       string
	DateIssued time.Time
}

// CertificateExporter renders landscape certificate PDFs.
type CertificateExporter struct {
	Institution string
}

// NewCertificateExporter builds a certificate exporter.
func NewCertificateExporter(institution string) *CertificateExporter {
	if institution == "" {
		institution = "University Teaching and Learning Development Office"
	}
	return &CertificateExporter{Institution: institution}
}

// Render produces the certificate PDF bytes.
func (e *CertificateExporter) Render(data CertificateData) ([]byte, error) {
	if data.AuthorName == "" {
		return nil, fmt.Errorf("certificate requires an author name")
	}
	if data.QRID == "" {
		return nil, fmt.Errorf("certificate requires a qr id")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, e.Institution, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 28)
	pdf.CellFormat(0, 14, "CERTIFICATE OF RECOGNITION", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, "is hereby awarded to", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 12, data.AuthorName, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, "for the development of the instructional material", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "I", 14)
	pdf.CellFormat(0, 10, data.Title, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("Issued on %s", data.DateIssued.Format("January 2, 2006")), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 8)
	pdf.SetY(-20)
	pdf.CellFormat(0, 5, fmt.Sprintf("Verification ID: %s", data.QRID), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
