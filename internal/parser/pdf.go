package parser

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"github.com/dgallion1/htmlchunk/internal/doctree"
)

// PDFParser handles PDF files. It tries the Go library first,
// then falls back to pdftotext if available. Each page becomes an
// <h2>Page N</h2> section of paragraphs.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so we write to a temp file.
	tmp, err := os.CreateTemp("", "htmlchunk-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	text, err := extractPDFText(tmpPath)
	if p.FallbackPdftotext && (err != nil || strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) == "") {
		// Scanned or oddly encoded PDFs often yield nothing from the Go library.
		if fallback, fbErr := extractPdftotext(tmpPath); fbErr == nil {
			text, err = fallback, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	return pdfDocument(baseTitle(filename), text)
}

// pdfDocument shapes form-feed separated page text into a document titled
// by an h1, one h2 per non-empty page. Blank pages keep their numbering.
func pdfDocument(title, text string) (*doctree.Document, error) {
	var b builder
	b.heading(1, title)
	for i, page := range splitPages(text) {
		paragraphs := splitParagraphs(page)
		if len(paragraphs) == 0 {
			continue
		}
		b.heading(2, fmt.Sprintf("Page %d", i+1))
		for _, para := range paragraphs {
			b.paragraph(para)
		}
	}
	return b.document(title)
}

func extractPDFText(path string) (string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if i > 1 {
			buf.WriteString("\f") // Form feed as page separator.
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
	}
	return buf.String(), nil
}

func extractPdftotext(path string) (string, error) {
	cmd := exec.Command("pdftotext", "-layout", path, "-")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

func splitPages(text string) []string {
	return strings.Split(text, "\f")
}
