package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

var queryNamespaces = map[string]string{
	"w": NSWordML,
	"r": NSRelationships,
}

var (
	pageBreakQuery   = mustCompile(`descendant-or-self::w:br[@w:type='page']`)
	textQuery        = mustCompile(`descendant-or-self::w:t`)
	paraSectionQuery = mustCompile(`descendant-or-self::w:p/w:pPr/w:sectPr`)
)

func mustCompile(expr string) *xpath.Expr {
	e, err := xpath.CompileWithNS(expr, queryNamespaces)
	if err != nil {
		panic(fmt.Sprintf("docx: bad query %q: %v", expr, err))
	}
	return e
}

// parseXML parses a package part into an xmlquery tree.
//
// Entity expansion is disabled; encoding/xml never fetches external entities.
func parseXML(data []byte) (*xmlquery.Node, error) {
	return xmlquery.ParseWithOptions(bytes.NewReader(data), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{
			Strict: true,
			Entity: map[string]string{},
		},
	})
}

// serializeXML writes a parsed part back out. Whitespace is preserved and
// empty elements are self-closed.
func serializeXML(root *xmlquery.Node) []byte {
	var buf bytes.Buffer
	_ = root.WriteWithOptions(&buf, xmlquery.WithEmptyTagSupport(), xmlquery.WithPreserveSpace())
	return buf.Bytes()
}

// Clone returns a deep copy of n and all of its descendants. The copy shares
// no nodes or attribute slices with the source tree and has no parent.
func Clone(n *xmlquery.Node) *xmlquery.Node {
	if n == nil {
		return nil
	}
	c := &xmlquery.Node{
		Type:         n.Type,
		Data:         n.Data,
		Prefix:       n.Prefix,
		NamespaceURI: n.NamespaceURI,
		LineNumber:   n.LineNumber,
	}
	if n.Attr != nil {
		c.Attr = append([]xmlquery.Attr(nil), n.Attr...)
	}
	if n.ProcInst != nil {
		pi := *n.ProcInst
		c.ProcInst = &pi
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		xmlquery.AddChild(c, Clone(child))
	}
	return c
}

func isElement(n *xmlquery.Node, ns, local string) bool {
	return n != nil && n.Type == xmlquery.ElementNode && n.Data == local && n.NamespaceURI == ns
}

func firstChildElement(n *xmlquery.Node, ns, local string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isElement(c, ns, local) {
			return c
		}
	}
	return nil
}

func childElements(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// insertBefore links n into ref's parent immediately before ref.
func insertBefore(ref, n *xmlquery.Node) {
	if ref.PrevSibling != nil {
		xmlquery.AddImmediateSibling(ref.PrevSibling, n)
		return
	}
	parent := ref.Parent
	n.Parent = parent
	n.PrevSibling = nil
	n.NextSibling = ref
	ref.PrevSibling = n
	if parent != nil {
		parent.FirstChild = n
	}
}

// IsSection reports whether n is a section properties element (w:sectPr).
func IsSection(n *xmlquery.Node) bool {
	return isElement(n, NSWordML, "sectPr")
}

// IsParagraph reports whether n is a paragraph element (w:p).
func IsParagraph(n *xmlquery.Node) bool {
	return isElement(n, NSWordML, "p")
}

// Text returns the concatenated w:t text below n.
func Text(n *xmlquery.Node) string {
	var sb strings.Builder
	for _, t := range xmlquery.QuerySelectorAll(n, textQuery) {
		sb.WriteString(t.InnerText())
	}
	return sb.String()
}

// PageBreaks counts explicit page breaks (w:br w:type="page") in nodes.
func PageBreaks(nodes ...*xmlquery.Node) int {
	count := 0
	for _, n := range nodes {
		count += len(xmlquery.QuerySelectorAll(n, pageBreakQuery))
	}
	return count
}

// StripSections removes paragraph-level section properties
// (w:p/w:pPr/w:sectPr) below n and returns how many were removed.
func StripSections(n *xmlquery.Node) int {
	found := xmlquery.QuerySelectorAll(n, paraSectionQuery)
	for _, s := range found {
		xmlquery.RemoveFromTree(s)
	}
	return len(found)
}

// RelationshipRefs returns the relationship ids referenced below n, in
// document order, without duplicates.
func RelationshipRefs(n *xmlquery.Node) []string {
	var refs []string
	seen := make(map[string]bool)
	walkElements(n, func(e *xmlquery.Node) {
		for _, a := range e.Attr {
			if isRelationshipAttr(a) && !seen[a.Value] {
				seen[a.Value] = true
				refs = append(refs, a.Value)
			}
		}
	})
	return refs
}

// RewriteRelationshipIDs rewrites relationship id attributes below n using
// mapping (old id -> new id) in a single pass and returns how many
// attributes changed.
func RewriteRelationshipIDs(n *xmlquery.Node, mapping map[string]string) int {
	if len(mapping) == 0 {
		return 0
	}
	changed := 0
	walkElements(n, func(e *xmlquery.Node) {
		for i, a := range e.Attr {
			if !isRelationshipAttr(a) {
				continue
			}
			if to, ok := mapping[a.Value]; ok {
				e.Attr[i].Value = to
				changed++
			}
		}
	})
	return changed
}

func isRelationshipAttr(a xmlquery.Attr) bool {
	if isRelationshipNamespace(a.NamespaceURI) {
		return true
	}
	// VML shapes reference images through o:relid.
	return a.NamespaceURI == NSOffice && a.Name.Local == "relid"
}

func walkElements(n *xmlquery.Node, fn func(*xmlquery.Node)) {
	if n.Type == xmlquery.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, fn)
	}
}

func newWordElement(local string, attrs ...xmlquery.Attr) *xmlquery.Node {
	return &xmlquery.Node{
		Type:         xmlquery.ElementNode,
		Data:         local,
		Prefix:       "w",
		NamespaceURI: NSWordML,
		Attr:         attrs,
	}
}

func xmlName(space, local string) xml.Name {
	return xml.Name{Space: space, Local: local}
}

func wordAttr(local, value string) xmlquery.Attr {
	return xmlquery.Attr{
		Name:         xmlName("w", local),
		Value:        value,
		NamespaceURI: NSWordML,
	}
}

// NewPageBreakRun returns <w:r><w:br w:type="page"/></w:r>.
func NewPageBreakRun() *xmlquery.Node {
	run := newWordElement("r")
	xmlquery.AddChild(run, newWordElement("br", wordAttr("type", "page")))
	return run
}

// NewParagraph returns a w:p holding the given children.
func NewParagraph(children ...*xmlquery.Node) *xmlquery.Node {
	p := newWordElement("p")
	for _, c := range children {
		xmlquery.AddChild(p, c)
	}
	return p
}

// NewTextParagraph returns a w:p with a single run of text.
func NewTextParagraph(text string) *xmlquery.Node {
	t := newWordElement("t", xmlquery.Attr{
		Name:         xml.Name{Space: "xml", Local: "space"},
		Value:        "preserve",
		NamespaceURI: "http://www.w3.org/XML/1998/namespace",
	})
	xmlquery.AddChild(t, &xmlquery.Node{Type: xmlquery.TextNode, Data: text})
	run := newWordElement("r")
	xmlquery.AddChild(run, t)
	return NewParagraph(run)
}

// OuterXML serializes n itself, mainly for diagnostics and comparisons.
func OuterXML(n *xmlquery.Node) string {
	return n.OutputXMLWithOptions(xmlquery.WithOutputSelf(), xmlquery.WithEmptyTagSupport(), xmlquery.WithPreserveSpace())
}
