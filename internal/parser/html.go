package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dgallion1/htmlchunk/internal/doctree"
)

// HTMLParser handles HTML files. The tree is chunked as parsed.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := baseTitle(filename)
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		title = t
	}

	return &doctree.Document{Title: title, Root: doc.Get(0)}, nil
}
