// Package dom walks and edits golang.org/x/net/html node trees: locating
// text-bearing nodes, splicing markers into them and undoing the splice.
package dom

import (
	"iter"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// IsNonContent reports whether an element never renders its text as page
// content: scripts, styles, the document title, form text and embedded or
// inert documents.
func IsNonContent(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Title, atom.Textarea,
		atom.Template, atom.Iframe, atom.Noembed, atom.Noframes:
		return true
	}
	// Unknown atoms (custom elements) compare by name
	switch n.Data {
	case "script", "style", "noscript", "title", "textarea", "template", "iframe", "noembed", "noframes":
		return true
	}
	return false
}

// TextNodes yields the non-blank text nodes under root in document order.
// Nothing inside a non-content element (see IsNonContent) is yielded.
//
// The sequence is lazy and reads the tree as it goes. Take a fresh sequence
// after mutating the tree; nodes yielded before a mutation may be detached.
func TextNodes(root *html.Node) iter.Seq[*html.Node] {
	return TextNodesFunc(root, nil)
}

// TextNodesFunc is TextNodes with an extra parent filter: text nodes whose
// immediate parent satisfies skip are not yielded.
func TextNodesFunc(root *html.Node, skip func(parent *html.Node) bool) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		if root == nil {
			return
		}

		var walk func(*html.Node) bool
		walk = func(n *html.Node) bool {
			if n.Type == html.TextNode {
				if strings.TrimSpace(n.Data) == "" {
					return true
				}
				if IsNonContent(n.Parent) {
					return true
				}
				if skip != nil && n.Parent != nil && skip(n.Parent) {
					return true
				}
				return yield(n)
			}
			if n != root && IsNonContent(n) {
				return true
			}

			for c := n.FirstChild; c != nil; {
				// Capture the sibling first so the consumer may replace c.
				next := c.NextSibling
				if !walk(c) {
					return false
				}
				c = next
			}
			return true
		}

		walk(root)
	}
}

// VisibleText returns the rendered text under n, skipping non-content
// elements. Adjacent text from different elements is joined with a space.
func VisibleText(n *html.Node) string {
	var parts []string
	for t := range TextNodes(n) {
		parts = append(parts, strings.TrimSpace(t.Data))
	}
	return strings.Join(parts, " ")
}

// TextContent returns the concatenated raw text of every text node under n,
// the way Node.textContent does in a browser (scripts included).
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			buf.WriteString(node.Data)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}
