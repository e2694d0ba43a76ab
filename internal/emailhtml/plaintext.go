package emailhtml

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Table: true, atom.Tr: true, atom.Blockquote: true, atom.Section: true,
	atom.Header: true, atom.Footer: true, atom.Hr: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Title: true,
}

var (
	spaceRunRe   = regexp.MustCompile(`[ \t\f\r\x{00a0}]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives a text alternative from an HTML body: block elements
// end lines, links keep their target in parentheses, markup is dropped.
func PlainText(src string) string {
	d, err := parse(src)
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
			return
		case html.ElementNode:
			if skippedElements[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Br {
				b.WriteByte('\n')
				return
			}
		}
		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			b.WriteByte('\n')
		}
		start := b.Len()
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if isElement(n, atom.A) {
			href, _ := attr(n, "href")
			text := strings.TrimSpace(b.String()[start:])
			if href != "" && href != text && !strings.HasPrefix(href, "#") {
				b.WriteString(" (" + href + ")")
			}
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(d.root)

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(l, " "))
	}
	out := strings.Join(lines, "\n")
	out = newlineRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
