package page

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// MaxContentLength caps the text handed to the speech controller.
	MaxContentLength = 5000

	// NoReadableText is read aloud when a page has no text to speak.
	NoReadableText = "Sorry, I can't find readable text on this page."
)

// skipped elements never contribute readable text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var skippedClasses = []string{"ad", "advertisement"}

// ReadableText extracts the main text of an HTML document. It prefers
// main, article or [role=main]; then .content, .main-content or #content;
// then body. Navigation, headers, footers, asides, scripts and ad blocks are
// dropped. Whitespace is collapsed and the result capped at
// [MaxContentLength] runes. An empty result means there is nothing to read.
func ReadableText(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("page: parse html: %w", err)
	}

	root := find(doc, isPrimaryContent)
	if root == nil {
		root = find(doc, isSecondaryContent)
	}
	if root == nil {
		root = find(doc, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if root == nil {
		root = doc
	}

	var b strings.Builder
	collectText(root, &b)
	return Collapse(b.String(), MaxContentLength), nil
}

// Collapse folds runs of whitespace into single spaces, trims, and cuts the
// result to at most max runes.
func Collapse(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max > 0 {
		if r := []rune(s); len(r) > max {
			s = strings.TrimSpace(string(r[:max]))
		}
	}
	return s
}

func isPrimaryContent(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	return n.DataAtom == atom.Main || n.DataAtom == atom.Article || attr(n, "role") == "main"
}

func isSecondaryContent(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	return hasClass(n, "content") || hasClass(n, "main-content") || attr(n, "id") == "content"
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		for _, c := range skippedClasses {
			if hasClass(n, c) {
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
