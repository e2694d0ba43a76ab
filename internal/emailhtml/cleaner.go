package emailhtml

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParagraphMargin is applied to every paragraph that survives cleaning.
const ParagraphMargin = "0 0 12px 0"

// Clean drops paragraphs holding nothing but whitespace, NBSP or <br>,
// collapses runs of <br> into one, and gives each remaining <p> a fixed
// margin while keeping its other inline declarations.
func Clean(src string) (string, error) {
	d, err := parse(src)
	if err != nil {
		return "", err
	}
	cleanTree(d.root)
	return d.render()
}

// Prepare runs Inline and then Clean over a single parse.
func Prepare(src string) (string, error) {
	d, err := parse(src)
	if err != nil {
		return "", err
	}
	inlineTree(d.root)
	cleanTree(d.root)
	return d.render()
}

func cleanTree(root *html.Node) {
	for _, p := range elements(root, isEmptyParagraph) {
		p.Parent.RemoveChild(p)
	}
	collapseBreaks(root)
	for _, p := range elements(root, func(n *html.Node) bool { return n.DataAtom == atom.P }) {
		normalizeMargin(p)
	}
}

func isEmptyParagraph(n *html.Node) bool {
	if n.DataAtom != atom.P || n.Parent == nil {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			// unicode.IsSpace covers U+00A0, which is what &nbsp; and &#160; decode to.
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		case c.Type == html.CommentNode:
		case isElement(c, atom.Br):
		default:
			return false
		}
	}
	return true
}

func collapseBreaks(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !isElement(c, atom.Br) {
			collapseBreaks(c)
			continue
		}
		var run []*html.Node
		last := -1
		for s := c.NextSibling; s != nil; s = s.NextSibling {
			if isElement(s, atom.Br) {
				run = append(run, s)
				last = len(run) - 1
				continue
			}
			if s.Type == html.TextNode && strings.TrimSpace(s.Data) == "" {
				run = append(run, s)
				continue
			}
			break
		}
		for _, s := range run[:last+1] {
			n.RemoveChild(s)
		}
	}
}

func normalizeMargin(p *html.Node) {
	styleAttr, _ := attr(p, "style")
	var kept []declaration
	for _, d := range parseStyle(styleAttr) {
		if strings.HasPrefix(d.prop, "margin") {
			continue
		}
		kept = append(kept, d)
	}
	kept = append(kept, declaration{prop: "margin", value: ParagraphMargin})
	setAttr(p, "style", formatStyle(kept))
}
