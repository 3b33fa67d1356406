package chunker

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type elementKind int

const (
	kindOther elementKind = iota
	kindHeading
	kindParagraph
	kindUnorderedList
	kindOrderedList
)

// element is the classification of a single node, computed once per visit.
type element struct {
	kind  elementKind
	level int // 1-6 for headings, 0 otherwise
}

func classify(n *html.Node) element {
	if n.Type != html.ElementNode {
		return element{}
	}
	switch n.DataAtom {
	case atom.H1:
		return element{kind: kindHeading, level: 1}
	case atom.H2:
		return element{kind: kindHeading, level: 2}
	case atom.H3:
		return element{kind: kindHeading, level: 3}
	case atom.H4:
		return element{kind: kindHeading, level: 4}
	case atom.H5:
		return element{kind: kindHeading, level: 5}
	case atom.H6:
		return element{kind: kindHeading, level: 6}
	case atom.P:
		return element{kind: kindParagraph}
	case atom.Ul:
		return element{kind: kindUnorderedList}
	case atom.Ol:
		return element{kind: kindOrderedList}
	}
	return element{}
}

func (e element) isContent() bool {
	switch e.kind {
	case kindParagraph, kindUnorderedList, kindOrderedList:
		return true
	}
	return false
}

// tag returns the lowercase tag name of a content element.
func (e element) tag() string {
	switch e.kind {
	case kindParagraph:
		return "p"
	case kindUnorderedList:
		return "ul"
	case kindOrderedList:
		return "ol"
	}
	return ""
}
