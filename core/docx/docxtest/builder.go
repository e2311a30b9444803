// Package docxtest builds small .docx packages for tests.
package docxtest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const rootNamespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" ` +
	`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture"`

const (
	relImage     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
	relHyperlink = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink"
	relStyles    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	relChart     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/chart"
)

// PNG is a 1x1 transparent PNG.
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type rel struct {
	id, typ, target, mode string
}

// Builder assembles a package body by body node.
type Builder struct {
	body       strings.Builder
	rels       []rel
	media      map[string][]byte
	mediaOrder []string
	extraNS    []string
	ignorable  string
	noSection  bool
}

// New returns an empty builder. The package carries a styles part under rId1.
func New() *Builder {
	return &Builder{
		rels:  []rel{{id: "rId1", typ: relStyles, target: "styles.xml"}},
		media: make(map[string][]byte),
	}
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func run(text string) string {
	return `<w:r><w:t xml:space="preserve">` + escape(text) + `</w:t></w:r>`
}

// Paragraph appends a paragraph of text.
func (b *Builder) Paragraph(text string) *Builder {
	b.body.WriteString(`<w:p>` + run(text) + `</w:p>`)
	return b
}

// PageBreak appends a paragraph ending in an explicit page break.
func (b *Builder) PageBreak(text string) *Builder {
	b.body.WriteString(`<w:p>` + run(text) + `<w:r><w:br w:type="page"/></w:r></w:p>`)
	return b
}

// Table appends a one-cell table.
func (b *Builder) Table(text string) *Builder {
	b.body.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/></w:tblPr><w:tblGrid><w:gridCol w:w="2000"/></w:tblGrid>` +
		`<w:tr><w:tc><w:p>` + run(text) + `</w:p></w:tc></w:tr></w:tbl>`)
	return b
}

// SectionBreak appends a paragraph carrying its own section properties.
func (b *Builder) SectionBreak(text string) *Builder {
	b.body.WriteString(`<w:p><w:pPr><w:sectPr><w:pgSz w:w="11906" w:h="16838"/></w:sectPr></w:pPr>` + run(text) + `</w:p>`)
	return b
}

// partName resolves a target of the main part: "/word/x" and "x" both name
// word/x.
func partName(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return "word/" + target
}

func (b *Builder) addPart(target string, data []byte) {
	part := partName(target)
	if _, ok := b.media[part]; !ok {
		b.mediaOrder = append(b.mediaOrder, part)
	}
	b.media[part] = data
}

// Image appends a paragraph showing an embedded image stored at target
// under relationship id. Relative targets live below word/.
func (b *Builder) Image(id, target string, data []byte) *Builder {
	b.rels = append(b.rels, rel{id: id, typ: relImage, target: target})
	b.addPart(target, data)
	return b.ImageRef(id)
}

// Chart appends a paragraph showing a chart part stored at target under
// relationship id.
func (b *Builder) Chart(id, target string) *Builder {
	b.rels = append(b.rels, rel{id: id, typ: relChart, target: target})
	b.addPart(target, []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<c:chartSpace xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart"/>`))
	b.body.WriteString(`<w:p><w:r><w:drawing><wp:inline><wp:extent cx="9525" cy="9525"/><wp:docPr id="2" name="Chart"/>` +
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/chart">` +
		`<c:chart xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart" r:id="` + id + `"/>` +
		`</a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>`)
	return b
}

// ImageRef appends another paragraph showing an already registered image.
func (b *Builder) ImageRef(id string) *Builder {
	b.body.WriteString(`<w:p><w:r><w:drawing><wp:inline><wp:extent cx="9525" cy="9525"/><wp:docPr id="1" name="Picture"/>` +
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture"><pic:pic>` +
		`<pic:blipFill><a:blip r:embed="` + id + `"/></pic:blipFill></pic:pic></a:graphicData></a:graphic>` +
		`</wp:inline></w:drawing></w:r></w:p>`)
	return b
}

// Hyperlink appends a paragraph linking text to an external url.
func (b *Builder) Hyperlink(id, url, text string) *Builder {
	b.rels = append(b.rels, rel{id: id, typ: relHyperlink, target: url, mode: "External"})
	b.body.WriteString(`<w:p><w:hyperlink r:id="` + id + `">` + run(text) + `</w:hyperlink></w:p>`)
	return b
}

// Raw appends body XML verbatim.
func (b *Builder) Raw(xmlText string) *Builder {
	b.body.WriteString(xmlText)
	return b
}

// Namespace declares an extra prefix on the root element.
func (b *Builder) Namespace(prefix, uri string) *Builder {
	b.extraNS = append(b.extraNS, fmt.Sprintf(`xmlns:%s="%s"`, prefix, uri))
	return b
}

// Ignorable sets mc:Ignorable on the root element and declares mc.
func (b *Builder) Ignorable(prefixes string) *Builder {
	b.ignorable = prefixes
	return b
}

// WithoutSection omits the body-level w:sectPr.
func (b *Builder) WithoutSection() *Builder {
	b.noSection = true
	return b
}

// DocumentXML returns the main part as built so far.
func (b *Builder) DocumentXML() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sb.WriteString(`<w:document ` + rootNamespaces)
	for _, ns := range b.extraNS {
		sb.WriteString(" " + ns)
	}
	if b.ignorable != "" {
		sb.WriteString(` xmlns:mc="http://schemas.openxmlformats.org/markup-compatibility/2006" mc:Ignorable="` + b.ignorable + `"`)
	}
	sb.WriteString(`><w:body>`)
	sb.WriteString(b.body.String())
	if !b.noSection {
		sb.WriteString(`<w:sectPr><w:pgSz w:w="12240" w:h="15840"/></w:sectPr>`)
	}
	sb.WriteString(`</w:body></w:document>`)
	return sb.String()
}

// Bytes returns the zipped package.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, data string) {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write([]byte(data)); err != nil {
			panic(err)
		}
	}

	write("[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`+
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`+
		`<Default Extension="xml" ContentType="application/xml"/>`+
		`<Default Extension="png" ContentType="image/png"/>`+
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`+
		`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>`+
		`</Types>`)
	write("_rels/.rels", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`+
		`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>`+
		`</Relationships>`)
	write("word/document.xml", b.DocumentXML())

	var rels strings.Builder
	rels.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	rels.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, r := range b.rels {
		mode := ""
		if r.mode != "" {
			mode = ` TargetMode="` + r.mode + `"`
		}
		fmt.Fprintf(&rels, `<Relationship Id="%s" Type="%s" Target="%s"%s/>`, r.id, r.typ, escape(r.target), mode)
	}
	rels.WriteString(`</Relationships>`)
	write("word/_rels/document.xml.rels", rels.String())
	write("word/styles.xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+
		`<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"/>`)
	for _, part := range b.mediaOrder {
		write(part, string(b.media[part]))
	}

	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WriteFile writes the package to dir/name, creating parent directories.
func (b *Builder) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
