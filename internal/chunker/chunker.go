// Package chunker splits an HTML tree into heading-annotated text chunks.
//
// Each chunk is the current heading path rendered as "#"-prefixed lines,
// followed by the text of one content element (p, ul or ol), joined by the
// literal two-character Separator.
package chunker

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/htmlchunk/internal/doctree"
)

// Chunk parses src as HTML and returns the rendered chunks in document order.
func Chunk(src string) ([]string, error) {
	return ChunkReader(strings.NewReader(src))
}

// ChunkReader is Chunk over an io.Reader.
func ChunkReader(r io.Reader) ([]string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doctree.Texts(ChunkTree(root)), nil
}

// ChunkTree walks an already parsed tree and returns structured chunks.
func ChunkTree(root *html.Node) []doctree.Chunk {
	if root == nil {
		return nil
	}
	w := &walker{}
	if root.Type == html.ElementNode {
		w.visit(root)
	} else {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			w.visit(c)
		}
	}
	return w.chunks
}

// maxLevel is the deepest heading level (h6).
const maxLevel = 6

// walker holds the traversal state of a single ChunkTree call.
//
// headings[i] is the current heading at level i+1; an empty string means no
// heading is active at that level.
type walker struct {
	headings [maxLevel]string
	seenH1   bool
	chunks   []doctree.Chunk
}

func (w *walker) visit(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}

	e := classify(n)
	if e.kind == kindHeading {
		w.heading(e.level, textContent(n))
	}
	if e.isContent() {
		if body := content(n, e); body != "" {
			w.emit(e, body)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.visit(c)
	}
}

func (w *walker) heading(level int, text string) {
	if text == "" {
		return
	}
	if level == 1 {
		w.seenH1 = true
	}
	// Documents without an h1 start their outline at h2.
	if level == 2 && !w.seenH1 {
		level = 1
	}
	w.headings[level-1] = text
	for i := level; i < maxLevel; i++ {
		w.headings[i] = ""
	}
}

func (w *walker) emit(e element, body string) {
	w.chunks = append(w.chunks, doctree.Chunk{
		Index:      len(w.chunks),
		Text:       buildChunk(w.headings[:], body),
		Breadcrumb: w.breadcrumb(),
		Content:    body,
		Element:    e.tag(),
	})
}

// breadcrumb returns the active headings, outermost first.
func (w *walker) breadcrumb() []string {
	var bc []string
	for _, h := range w.headings {
		if h != "" {
			bc = append(bc, h)
		}
	}
	return bc
}
