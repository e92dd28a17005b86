package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/signintech/gopdf"
)

const (
	pdfMarginLeft = 40.0
	pdfLineHeight = 16.0
	pdfPageBottom = 800.0
	pdfMaxWidth   = 515.0
)

// PDF renders the scan report as a PDF and returns its path. A TTF font
// must be configured; gopdf cannot embed text without one.
func (g *Generator) PDF(scanID int64) (string, error) {
	if g.fontPath == "" {
		return "", fmt.Errorf("no report font configured")
	}

	d, err := g.load(scanID)
	if err != nil {
		return "", err
	}

	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("report", g.fontPath); err != nil {
		return "", fmt.Errorf("loading report font: %w", err)
	}

	w := &pdfWriter{pdf: &pdf}

	w.heading(fmt.Sprintf("Leak Scan Report — Scan #%d", d.scan.ID), 18)
	w.line(fmt.Sprintf("Status: %s    Trigger: %s    Duration: %ds",
		d.scan.Status, d.scan.TriggerType, d.scan.DurationSecs))
	w.line(fmt.Sprintf("Repositories: %d found, %d scanned    New findings: %d",
		d.scan.ReposFound, d.scan.ReposScanned, d.scan.NewFindings))
	w.line(fmt.Sprintf("Keywords: %d", d.scan.KeywordsUsed))
	w.space()

	counts := severityCounts(d.findings)
	w.heading("Findings by severity", 14)
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		w.line(fmt.Sprintf("%-10s %d", sev, counts[sev]))
	}
	w.space()

	for _, repoID := range d.groupByRepo() {
		repo := d.repos[repoID]
		w.heading(d.repoName(repoID), 14)
		if repo != nil {
			if repo.AIRelevance != nil {
				w.line(fmt.Sprintf("AI relevance: %.2f — %s", *repo.AIRelevance, repo.AISummary))
			}
			var keywords []string
			_ = json.Unmarshal([]byte(repo.MatchedKeywords), &keywords)
			if len(keywords) > 0 {
				w.line("Matched keywords: " + strings.Join(keywords, ", "))
			}
		}
		for _, f := range d.findingsFor(repoID) {
			w.line(fmt.Sprintf("[%s] %s / %s", strings.ToUpper(f.Severity), f.Scanner, f.Detector))
			w.line(fmt.Sprintf("    %s:%d  verified=%t  commit=%s",
				f.FilePath, f.LineNumber, f.Verified, f.CommitHash))
			if f.AIAssessment != "" {
				w.line("    " + f.AIAssessment)
			}
		}
		w.space()
	}
	if w.err != nil {
		return "", fmt.Errorf("rendering pdf: %w", w.err)
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports dir: %w", err)
	}
	path := filepath.Join(g.dir, fmt.Sprintf("scan-%d.pdf", scanID))
	if err := pdf.WritePdf(path); err != nil {
		return "", fmt.Errorf("writing pdf: %w", err)
	}
	return path, nil
}

// pdfWriter tracks the cursor and pages, carrying the first error so the
// rendering code stays linear.
type pdfWriter struct {
	pdf *gopdf.GoPdf
	y   float64
	err error
}

func (w *pdfWriter) advance(h float64) {
	if w.y == 0 {
		w.y = 40
	}
	if w.y+h > pdfPageBottom {
		w.pdf.AddPage()
		w.y = 40
	}
	w.pdf.SetX(pdfMarginLeft)
	w.pdf.SetY(w.y)
	w.y += h
}

func (w *pdfWriter) heading(text string, size float64) {
	if w.err != nil {
		return
	}
	if err := w.pdf.SetFont("report", "", size); err != nil {
		w.err = err
		return
	}
	w.advance(size + 8)
	w.err = w.pdf.Cell(nil, text)
}

func (w *pdfWriter) line(text string) {
	if w.err != nil {
		return
	}
	if err := w.pdf.SetFont("report", "", 10); err != nil {
		w.err = err
		return
	}
	for _, chunk := range wrap(text, 110) {
		w.advance(pdfLineHeight)
		if err := w.pdf.Cell(nil, chunk); err != nil {
			w.err = err
			return
		}
	}
}

func (w *pdfWriter) space() {
	w.y += pdfLineHeight / 2
}

// wrap splits text into chunks of at most width runes, breaking on spaces
// where possible.
func wrap(text string, width int) []string {
	var lines []string
	for len(text) > width {
		cut := strings.LastIndex(text[:width], " ")
		if cut <= 0 {
			cut = width
		}
		lines = append(lines, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	return append(lines, text)
}
