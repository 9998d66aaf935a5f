// Package report renders flagged-payload evidence to PDF for offline review.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/waffleophagus/claw-rubber/internal/store"
)

const contentExcerptChars = 4000

// FlaggedPayloadPDF renders one blocked fetch — provenance, flags, the
// evidence table, and a content excerpt — as a PDF document.
func FlaggedPayloadPDF(fp *store.FlaggedPayload) ([]byte, error) {
	if fp == nil {
		return nil, fmt.Errorf("nil payload")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Claw-Rubber blocked fetch report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Blocked fetch report", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	meta := [][2]string{
		{"URL", fp.URL},
		{"Domain", fp.Domain},
		{"Fetch event", fmt.Sprintf("%d", fp.FetchEventID)},
		{"Score", fmt.Sprintf("%d", fp.Score)},
		{"Reason", fp.Reason},
		{"Flags", strings.Join(fp.Flags, ", ")},
		{"Recorded", fp.CreatedAt.UTC().Format(time.RFC3339)},
	}
	for _, row := range meta {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(30, 6, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, row[1], "", "L", false)
	}

	if len(fp.Evidence) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Evidence", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(55, 6, "Flag", "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, "Detector", "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, "Basis", "1", 0, "L", false, 0, "")
		pdf.CellFormat(15, 6, "Weight", "1", 0, "R", false, 0, "")
		pdf.CellFormat(0, 6, "Match", "1", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, ev := range fp.Evidence {
			pdf.CellFormat(55, 6, clip(ev.Flag, 40), "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, ev.Detector, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, ev.Basis, "1", 0, "L", false, 0, "")
			pdf.CellFormat(15, 6, fmt.Sprintf("%d", ev.Weight), "1", 0, "R", false, 0, "")
			pdf.CellFormat(0, 6, clip(ev.MatchedText, 48), "1", 1, "L", false, 0, "")
		}
	}

	if fp.Content != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Sanitized content excerpt", "", 1, "L", false, 0, "")
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(0, 4, clip(fp.Content, contentExcerptChars), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
