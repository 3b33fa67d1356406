package parser

import (
	"io"
	"strings"

	"github.com/dgallion1/htmlchunk/internal/doctree"
)

// TextParser handles plain text files. Each blank-line separated paragraph
// becomes a <p>.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var b builder
	for _, para := range splitParagraphs(text) {
		b.paragraph(para)
	}
	return b.document(baseTitle(filename))
}
