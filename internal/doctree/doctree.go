package doctree

import "golang.org/x/net/html"

// Document is a source document converted into an HTML tree.
type Document struct {
	Title string     // Document title (from <title>, metadata or filename)
	Root  *html.Node // Parsed tree, ready for chunking
}

// Chunk is one heading-annotated content unit in document order.
type Chunk struct {
	Index      int      `json:"index"`      // Sequence number within document
	Text       string   `json:"text"`       // Rendered chunk: heading lines + content line
	Breadcrumb []string `json:"breadcrumb"` // Heading path, e.g. ["Guide", "Install"]
	Content    string   `json:"content"`    // Content line only
	Element    string   `json:"element"`    // Source element: p, ul or ol
}

// Texts returns the rendered text of each chunk.
func Texts(chunks []Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
