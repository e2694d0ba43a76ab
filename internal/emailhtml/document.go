// Package emailhtml rewrites author-produced HTML into markup that renders
// consistently in email clients: class-driven sizing and positioning become
// inline styles, empty paragraphs and redundant line breaks go away, and a
// plain-text alternative can be derived from the result.
//
// All rewriting happens on a parsed node tree from golang.org/x/net/html.
package emailhtml

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// document is either a full HTML document or a fragment hung off a synthetic
// body element so that top-level siblings can be edited like any others.
type document struct {
	root     *html.Node
	fragment bool
}

func parse(src string) (*document, error) {
	if looksLikeDocument(src) {
		root, err := html.Parse(strings.NewReader(src))
		if err != nil {
			return nil, err
		}
		return &document{root: root}, nil
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return &document{root: body, fragment: true}, nil
}

func (d *document) render() (string, error) {
	var b strings.Builder
	if !d.fragment {
		if err := html.Render(&b, d.root); err != nil {
			return "", err
		}
		return b.String(), nil
	}
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func looksLikeDocument(src string) bool {
	lower := strings.ToLower(src)
	return strings.Contains(lower, "<html") ||
		strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<!doctype")
}

// elements returns, in document order, every element under root matching fn.
// Collecting first keeps callers free to detach or rewrite the matches.
func elements(root *html.Node, fn func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && fn(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == a
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func setAttr(n *html.Node, key, val string) {
	removeAttr(n, key)
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func classList(n *html.Node) []string {
	v, _ := attr(n, "class")
	return strings.Fields(v)
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range classList(n) {
		if c == class {
			return true
		}
	}
	return false
}
