package parser

import (
	"bytes"
	"fmt"
	"io"

	"github.com/yuin/goldmark"

	"github.com/dgallion1/htmlchunk/internal/doctree"
)

// MarkdownParser handles Markdown files by rendering them to HTML with
// goldmark. Raw HTML in the source is dropped by the default renderer.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := goldmark.Convert(src, &out); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	return parseDocument(&out, baseTitle(filename))
}
