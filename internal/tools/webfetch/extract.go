package webfetch

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Iframe:   true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Main: true, atom.Pre: true,
	atom.Blockquote: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// ExtractText returns the readable text of an HTML document and its title.
func ExtractText(r io.Reader) (title, text string) {
	z := html.NewTokenizer(r)
	var (
		b        strings.Builder
		skip     int
		inTitle  bool
		titleBuf strings.Builder
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(collapseSpace(titleBuf.String())), cleanText(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Title {
				inTitle = true
			}
			if skippedElements[tok.DataAtom] && tok.Type == html.StartTagToken {
				skip++
			}
			if blockElements[tok.DataAtom] {
				b.WriteByte('\n')
			}
			if tok.DataAtom == atom.Li {
				b.WriteString("- ")
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Title {
				inTitle = false
			}
			if skippedElements[tok.DataAtom] && skip > 0 {
				skip--
			}
			if blockElements[tok.DataAtom] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			data := string(z.Text())
			if inTitle {
				titleBuf.WriteString(data)
				continue
			}
			if skip > 0 {
				continue
			}
			b.WriteString(data)
		}
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText collapses whitespace within lines and keeps at most one blank
// line between paragraphs.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = collapseSpace(line)
		if line == "" || line == "-" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
