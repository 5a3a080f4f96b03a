package browser

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hiddenElements are HTML elements whose content never counts as
// readable page text.
var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// ExtractReadable parses HTML and returns the page title and a
// whitespace-normalized rendering of its visible text.
func ExtractReadable(raw string) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// html.Parse recovers from almost anything; treat a real
		// failure as an unreadable page.
		return "", ""
	}

	var content strings.Builder
	walkText(doc, &content)

	return pageTitle(doc), normalizeWhitespace(content.String())
}

func pageTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		collectText(n, &b)
		return strings.TrimSpace(b.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := pageTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func walkText(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if hiddenElements[n.DataAtom] {
			return
		}
		if isBlock(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n\n")
		}
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, w)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figure, atom.Hr:
		return true
	}
	return false
}

// normalizeWhitespace collapses space runs within lines and drops
// consecutive blank lines.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var cleaned []string
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
