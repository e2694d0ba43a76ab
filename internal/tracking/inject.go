package tracking

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const footerNote = "You are receiving this email because you subscribed to our updates."

// Injector appends the open pixel and compliance footer to rendered bodies.
type Injector struct {
	baseURL    string
	privacyURL string
}

// NewInjector builds an injector for links under baseURL. An empty
// privacyURL falls back to baseURL + "/privacy".
func NewInjector(baseURL, privacyURL string) *Injector {
	baseURL = strings.TrimRight(baseURL, "/")
	if privacyURL == "" {
		privacyURL = baseURL + "/privacy"
	}
	return &Injector{baseURL: baseURL, privacyURL: privacyURL}
}

func (i *Injector) PixelURL(trackingToken string) string {
	return i.baseURL + "/track/open/" + url.PathEscape(trackingToken)
}

func (i *Injector) UnsubscribeURL(email string) string {
	return i.baseURL + "/unsubscribe?token=" + url.QueryEscape(UnsubscribeToken(email))
}

func (i *Injector) PrivacyURL() string {
	return i.privacyURL
}

// Inject places the pixel and then the footer immediately before the closing
// body tag, or at the end when there is none. It is applied once per email.
func (i *Injector) Inject(body, trackingToken, email string) string {
	body = insertBeforeBodyEnd(body, render(i.pixel(trackingToken)))
	return insertBeforeBodyEnd(body, render(i.footer(email)))
}

func (i *Injector) pixel(token string) *html.Node {
	return element(atom.Img,
		"src", i.PixelURL(token),
		"width", "1",
		"height", "1",
		"alt", "",
		"style", "display:none;width:1px;height:1px;border:0",
	)
}

func (i *Injector) footer(email string) *html.Node {
	div := element(atom.Div,
		"style", "margin-top:24px;padding-top:12px;border-top:1px solid #e5e7eb;font-size:12px;color:#6b7280;text-align:center",
	)
	note := element(atom.P, "style", "margin: 0 0 8px 0")
	note.AppendChild(text(footerNote))

	links := element(atom.P, "style", "margin: 0")
	links.AppendChild(link(i.UnsubscribeURL(email), "Unsubscribe"))
	links.AppendChild(text(" | "))
	links.AppendChild(link(i.PrivacyURL(), "Privacy Policy"))

	div.AppendChild(note)
	div.AppendChild(links)
	return div
}

func element(a atom.Atom, kv ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	for j := 0; j+1 < len(kv); j += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[j], Val: kv[j+1]})
	}
	return n
}

func link(href, label string) *html.Node {
	a := element(atom.A, "href", href, "style", "color:#6b7280;text-decoration:underline")
	a.AppendChild(text(label))
	return a
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func render(n *html.Node) string {
	var b strings.Builder
	// Rendering a freshly built tree into a strings.Builder cannot fail.
	_ = html.Render(&b, n)
	return b.String()
}

func insertBeforeBodyEnd(doc, snippet string) string {
	idx := lastIndexFold(doc, "</body")
	if idx < 0 {
		return doc + snippet
	}
	return doc[:idx] + snippet + doc[idx:]
}

func lastIndexFold(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}
