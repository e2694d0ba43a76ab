package emailhtml

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReferenceWidth is the container width, in pixels, that pixel width
// attributes are converted against.
const ReferenceWidth = 600

var sizeWidths = map[string]string{
	"size-small":  "200px",
	"size-medium": "400px",
	"size-large":  "600px",
	"size-full":   "100%",
}

var (
	floatLeft = []declaration{
		important("float", "left"),
		important("margin", "0 15px 15px 0"),
	}
	floatRight = []declaration{
		important("float", "right"),
		important("margin", "0 0 15px 15px"),
	}
	centered = []declaration{
		important("display", "block"),
		important("margin", "0 auto 15px auto"),
		important("float", "none"),
	}
)

var positionStyles = map[string][]declaration{
	"position-left":       floatLeft,
	"position-right":      floatRight,
	"position-center":     centered,
	"position-wrap-left":  floatLeft,
	"position-wrap-right": floatRight,
}

// Inline converts size-* and position-* classes on images and media-wrapper
// divs into inline !important styles. Inline(Inline(x)) == Inline(x).
func Inline(src string) (string, error) {
	d, err := parse(src)
	if err != nil {
		return "", err
	}
	inlineTree(d.root)
	return d.render()
}

func inlineTree(root *html.Node) {
	for _, n := range elements(root, isMediaElement) {
		inlineElement(n)
	}
}

func isMediaElement(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Img:
		return true
	case atom.Div:
		return hasClass(n, "media-wrapper")
	}
	return false
}

func inlineElement(n *html.Node) {
	classes := classList(n)
	styleAttr, _ := attr(n, "style")
	existing := parseStyle(styleAttr)

	var decls []declaration
	decls = append(decls, sizeDeclarations(n, classes, existing)...)
	decls = append(decls, positionDeclarations(classes, existing)...)
	decls = append(decls,
		important("height", "auto"),
		declaration{prop: "border-radius", value: "8px"},
	)

	removeAttr(n, "class")
	setAttr(n, "style", formatStyle(decls))
}

func sizeDeclarations(n *html.Node, classes []string, existing []declaration) []declaration {
	for _, c := range classes {
		if w, ok := sizeWidths[c]; ok {
			return widthPair(w)
		}
	}
	if v, ok := lookup(existing, "width"); ok {
		if w := stripImportant(v); w != "" {
			return widthPair(w)
		}
	}
	if v, ok := attr(n, "width"); ok {
		if px, ok := parsePixels(v); ok {
			pct := int(math.Round(float64(px) / ReferenceWidth * 100))
			if pct > 100 {
				pct = 100
			}
			return widthPair(strconv.Itoa(pct) + "%")
		}
	}
	return []declaration{important("max-width", "100%")}
}

func widthPair(w string) []declaration {
	return []declaration{important("width", w), important("max-width", w)}
}

func positionDeclarations(classes []string, existing []declaration) []declaration {
	for _, c := range classes {
		if decls, ok := positionStyles[c]; ok {
			return decls
		}
	}
	v, ok := lookup(existing, "float")
	if !ok {
		return nil
	}
	switch float := strings.ToLower(stripImportant(v)); float {
	case "":
		return nil
	case "left":
		return floatLeft
	case "right":
		return floatRight
	case "none":
		if display, ok := lookup(existing, "display"); ok && strings.EqualFold(stripImportant(display), "block") {
			return centered
		}
		return []declaration{important("float", "none")}
	default:
		return []declaration{important("float", float)}
	}
}

// parsePixels accepts "320" and "320px".
func parsePixels(v string) (int, bool) {
	v = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), "px")
	px, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || px < 0 {
		return 0, false
	}
	return px, true
}
