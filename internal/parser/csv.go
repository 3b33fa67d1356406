package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/htmlchunk/internal/doctree"
)

// csvBatchSize is the number of data rows grouped under one heading.
const csvBatchSize = 20

// CSVParser handles CSV files. The first row is the header; data rows are
// grouped in batches, each batch rendered as a list under a "Rows a-b" heading.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	title := baseTitle(filename)
	var b builder
	if len(records) == 0 {
		return b.document(title)
	}

	headers := records[0]
	dataRows := records[1:]
	b.heading(1, title)

	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		items := make([]string, 0, end-i)
		for _, row := range dataRows[i:end] {
			items = append(items, formatRow(headers, row))
		}

		b.heading(2, fmt.Sprintf("Rows %d-%d", i+2, end+1)) // 1-indexed, skip header
		b.list(items)
	}

	return b.document(title)
}

func formatRow(headers, row []string) string {
	var text strings.Builder
	for j, cell := range row {
		if j > 0 {
			text.WriteString(", ")
		}
		if j < len(headers) {
			text.WriteString(headers[j] + ": " + cell)
		} else {
			text.WriteString(cell)
		}
	}
	return text.String()
}
