package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Separator joins chunk lines and list items. It is the two-character
// sequence backslash + 'n', not a line feed.
const Separator = `\n`

// asciiSpace matches layout whitespace only; U+00A0 survives as content.
var asciiSpace = regexp.MustCompile(`[ \t\n\v\f\r]+`)

// textContent concatenates all descendant text with no separators, collapses
// whitespace runs to one space and trims the result.
func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				buf.WriteString(c.Data)
			case html.ElementNode:
				extract(c)
			}
		}
	}
	extract(n)
	return normalizeSpace(buf.String())
}

func normalizeSpace(s string) string {
	return strings.Trim(asciiSpace.ReplaceAllString(s, " "), " ")
}

// listContent renders the direct <li> children of a list. Ordered lists are
// numbered densely over the items that survive the empty-text filter.
func listContent(n *html.Node, ordered bool) string {
	var items []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Li {
			continue
		}
		text := textContent(c)
		if text == "" {
			continue
		}
		if ordered {
			items = append(items, strconv.Itoa(len(items)+1)+". "+text)
		} else {
			items = append(items, "- "+text)
		}
	}
	return strings.Join(items, Separator)
}

// content extracts the chunk body for a content element.
func content(n *html.Node, e element) string {
	switch e.kind {
	case kindUnorderedList:
		return listContent(n, false)
	case kindOrderedList:
		return listContent(n, true)
	}
	return textContent(n)
}

// buildChunk renders the heading path followed by the content line.
// headings is indexed by level-1; empty entries are levels with no active
// heading and produce no line.
func buildChunk(headings []string, body string) string {
	parts := make([]string, 0, len(headings)+1)
	for i, h := range headings {
		if h == "" {
			continue
		}
		parts = append(parts, strings.Repeat("#", i+1)+" "+h)
	}
	parts = append(parts, body)
	return strings.Join(parts, Separator)
}
