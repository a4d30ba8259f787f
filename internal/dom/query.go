package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse parses an HTML document
func Parse(htmlContent string) (*html.Node, error) {
	return html.Parse(strings.NewReader(htmlContent))
}

// Render serializes a node tree back to HTML
func Render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Element creates a detached element node
func Element(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// Attr gets an attribute value from a node
func Attr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// HasClass checks if a node has a specific CSS class
func HasClass(n *html.Node, className string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, class := range strings.Fields(Attr(n, "class")) {
		if class == className {
			return true
		}
	}
	return false
}

// FindFirst finds the first node matching a predicate
func FindFirst(n *html.Node, predicate func(*html.Node) bool) *html.Node {
	var result *html.Node

	var walk func(*html.Node) bool
	walk = func(node *html.Node) bool {
		if predicate(node) {
			result = node
			return true
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}

	walk(n)
	return result
}

// Body returns the body element of a parsed document, or nil
func Body(doc *html.Node) *html.Node {
	return FindFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
}
