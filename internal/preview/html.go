package preview

import (
	"io"

	"github.com/tsawler/tabula/model"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// pageStyle is the stylesheet embedded in every preview page.
const pageStyle = "body { font-family: Arial, sans-serif; line-height: 1.6; margin: 0; padding: 0; }" +
	" .para { margin-bottom: 10px; }"

var headingAtoms = [...]atom.Atom{atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// BuildHTML renders the text content of doc as a standalone HTML page:
// headings become h1-h6, everything else a paragraph with class "para".
func BuildHTML(w io.Writer, doc *model.Document) error {
	root := &html.Node{Type: html.DocumentNode}
	root.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	page := element(atom.Html)
	root.AppendChild(page)

	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}))
	if doc.Metadata.Title != "" {
		title := element(atom.Title)
		title.AppendChild(text(doc.Metadata.Title))
		head.AppendChild(title)
	}
	style := element(atom.Style)
	style.AppendChild(text(pageStyle))
	head.AppendChild(style)
	page.AppendChild(head)

	body := element(atom.Body)
	page.AppendChild(body)

	for _, p := range doc.Pages {
		for _, el := range p.Elements {
			switch e := el.(type) {
			case *model.Heading:
				level := min(max(e.Level, 1), len(headingAtoms))
				h := element(headingAtoms[level-1])
				h.AppendChild(text(e.Text))
				body.AppendChild(h)
			case model.TextElement:
				para := element(atom.P, html.Attribute{Key: "class", Val: "para"})
				para.AppendChild(text(e.GetText()))
				body.AppendChild(para)
			}
		}
	}

	return html.Render(w, root)
}
