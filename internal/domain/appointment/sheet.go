package appointment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
)

// QueueSheet renders the day's queue as an A4 PDF for the reception desk.
func (s *QueueService) QueueSheet(ctx context.Context, caller auth.Identity, doctorID uuid.UUID, date string) ([]byte, error) {
	q, err := s.Queue(ctx, caller, doctorID, date)
	if err != nil {
		return nil, err
	}
	doc, err := s.Doctors.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	pdf, family, text := newSheet(s.SheetFont)
	pdf.SetMargins(10, 10, 10)
	pdf.AddPage()

	pdf.SetFont(family, "B", 14)
	pdf.CellFormat(0, 10, "MediConnect - Daily Queue", "", 1, "C", false, 0, "")
	pdf.SetFont(family, "", 11)
	pdf.CellFormat(0, 7, text(fmt.Sprintf("%s  |  %s", doc.FullName, q.Date)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Waiting: %d   In progress: %d   Completed: %d",
		q.Summary.Waiting, q.Summary.InProgress, q.Summary.Completed), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	widths := []float64{18, 70, 22, 35, 35}
	pdf.SetFont(family, "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"No.", "Patient", "Time", "Type", "Status"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(family, "", 10)
	for _, a := range q.Entries {
		row := []string{a.queueNumberString(), text(s.patientName(ctx, a.PatientID)), a.Time, string(a.ConsultationType), string(a.Status)}
		for i, v := range row {
			align := "C"
			if i == 1 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 8, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(q.Entries) == 0 {
		pdf.CellFormat(0, 8, "No patients in the queue.", "1", 1, "C", false, 0, "")
	}

	pdf.SetY(pdf.GetY() + 8)
	pdf.SetFont(family, "", 8)
	pdf.CellFormat(0, 6, "Generated "+s.Clock.Now().Format("2006-01-02 15:04"), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperr.Internal(fmt.Errorf("render queue sheet: %w", err))
	}
	return buf.Bytes(), nil
}

// newSheet returns the document, its font family and the conversion applied
// to names. With a UTF-8 TrueType font every script renders as is; the core
// Arial font only covers cp1252, so names are translated into it and any
// rune outside that code page is lost.
func newSheet(fontPath string) (*gofpdf.Fpdf, string, func(string) string) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	if fontPath != "" {
		pdf.AddUTF8Font("sheet", "", fontPath)
		pdf.AddUTF8Font("sheet", "B", fontPath)
		return pdf, "sheet", func(s string) string { return s }
	}
	return pdf, "Arial", pdf.UnicodeTranslatorFromDescriptor("")
}

func (s *QueueService) patientName(ctx context.Context, patientID uuid.UUID) string {
	if s.Contacts != nil {
		if c, err := s.Contacts.Contact(ctx, patientID); err == nil && c.Name != "" {
			return c.Name
		}
	}
	return patientID.String()[:8]
}
