package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Spliced reports the nodes that replaced a text node. Before and After are
// nil when the match touched the start or end of the original text.
type Spliced struct {
	Before *html.Node
	Marker *html.Node
	After  *html.Node
}

// Splice finds the first literal, case-sensitive occurrence of needle in an
// attached text node and replaces the node with [before, marker, after].
// The marker element comes from wrap and receives
// the matched text as its only child.
//
// It returns false and leaves the tree untouched when needle is empty, the
// node is not an attached text node, or the text does not contain needle.
func Splice(text *html.Node, needle string, wrap func() *html.Node) (*Spliced, bool) {
	if text == nil || text.Type != html.TextNode || text.Parent == nil || needle == "" {
		return nil, false
	}

	idx := strings.Index(text.Data, needle)
	if idx < 0 {
		return nil, false
	}

	parent := text.Parent
	head := text.Data[:idx]
	tail := text.Data[idx+len(needle):]

	marker := wrap()
	marker.AppendChild(&html.Node{Type: html.TextNode, Data: needle})

	out := &Spliced{Marker: marker}
	if head != "" {
		out.Before = &html.Node{Type: html.TextNode, Data: head}
		parent.InsertBefore(out.Before, text)
	}
	parent.InsertBefore(marker, text)
	if tail != "" {
		out.After = &html.Node{Type: html.TextNode, Data: tail}
		parent.InsertBefore(out.After, text)
	}
	parent.RemoveChild(text)

	return out, true
}

// Unwrap replaces el with its children and merges the text nodes that end up
// adjacent, restoring the text layout a Splice produced from. It is a no-op
// for detached nodes.
func Unwrap(el *html.Node) {
	if el == nil || el.Parent == nil {
		return
	}

	parent := el.Parent
	for c := el.FirstChild; c != nil; {
		next := c.NextSibling
		el.RemoveChild(c)
		parent.InsertBefore(c, el)
		c = next
	}
	parent.RemoveChild(el)

	Normalize(parent)
}

// Normalize merges adjacent text children of n and drops empty ones
func Normalize(n *html.Node) {
	if n == nil {
		return
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.TextNode {
			c = next
			continue
		}
		if c.Data == "" {
			n.RemoveChild(c)
			c = next
			continue
		}
		for next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			after := next.NextSibling
			n.RemoveChild(next)
			next = after
		}
		c = next
	}
}
