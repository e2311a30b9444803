// Package docx loads, edits and saves WordprocessingML (.docx) packages.
//
// A Document exposes the main part's body as an xmlquery tree and the
// relationships that body content references (images, external links) as a
// ResourceTable. Every other part of the package is carried through untouched.
package docx

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/FocuswithJustin/docmerge/core/errors"
)

const (
	defaultMainPart = "word/document.xml"
	packageRelsPart = "_rels/.rels"

	maxPartSize    = 64 << 20
	maxPackageSize = 256 << 20
)

var ridPattern = regexp.MustCompile(`^rId(\d+)$`)

// Document is an in-memory WordprocessingML package.
type Document struct {
	path string

	parts     map[string][]byte
	partOrder []string
	claimed   map[string]bool // parts owned by resources

	types    *contentTypes
	pkgRels  []relationship
	mainPart string

	root   *xmlquery.Node // document node of the main part
	docEl  *xmlquery.Node // w:document
	body   *xmlquery.Node // w:body
	rels   []relationship // structural relationships of the main part
	tables *ResourceTable
}

// Open loads the package at path.
func Open(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "document", ID: path, Err: err}
		}
		return nil, errors.NewIO("read", path, err)
	}
	return Parse(data, path)
}

// Read loads a package from r.
func Read(r io.ReaderAt, size int64, name string) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.NewDocumentLoad(name, "not a zip archive", err)
	}
	parts, order, err := readParts(zr, name)
	if err != nil {
		return nil, err
	}
	return fromParts(name, parts, order)
}

// Parse loads a package from its bytes. name is used in error messages.
func Parse(data []byte, name string) (*Document, error) {
	return Read(bytes.NewReader(data), int64(len(data)), name)
}

func readParts(zr *zip.Reader, name string) (map[string][]byte, []string, error) {
	parts := make(map[string][]byte, len(zr.File))
	order := make([]string, 0, len(zr.File))
	var total uint64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.UncompressedSize64 > maxPartSize {
			return nil, nil, errors.NewDocumentLoad(name, fmt.Sprintf("part %s exceeds %d bytes", f.Name, maxPartSize), nil)
		}
		total += f.UncompressedSize64
		if total > maxPackageSize {
			return nil, nil, errors.NewDocumentLoad(name, "package too large", nil)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, errors.NewDocumentLoad(name, "cannot open part "+f.Name, err)
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
		rc.Close()
		if err != nil {
			return nil, nil, errors.NewDocumentLoad(name, "cannot read part "+f.Name, err)
		}
		partName := strings.TrimPrefix(f.Name, "/")
		if _, dup := parts[partName]; !dup {
			order = append(order, partName)
		}
		parts[partName] = data
	}
	return parts, order, nil
}

func fromParts(name string, parts map[string][]byte, order []string) (*Document, error) {
	d := &Document{
		path:      name,
		parts:     parts,
		partOrder: order,
		claimed:   make(map[string]bool),
		tables:    NewResourceTable(),
		mainPart:  defaultMainPart,
	}

	ctData, ok := parts[contentTypesPart]
	if !ok {
		return nil, errors.NewDocumentLoad(name, "missing "+contentTypesPart, nil)
	}
	types, err := parseContentTypes(ctData)
	if err != nil {
		return nil, errors.NewDocumentLoad(name, "malformed "+contentTypesPart, err)
	}
	d.types = types

	if relData, ok := parts[packageRelsPart]; ok {
		rels, err := parseRelationships(relData)
		if err != nil {
			return nil, errors.NewDocumentLoad(name, "malformed "+packageRelsPart, err)
		}
		d.pkgRels = rels
		for _, r := range rels {
			if strings.HasSuffix(r.Type, "/officeDocument") {
				d.mainPart = resolveTarget("", r.Target)
				break
			}
		}
	}

	mainData, ok := parts[d.mainPart]
	if !ok {
		return nil, errors.NewDocumentLoad(name, "missing main document part "+d.mainPart, nil)
	}
	root, err := parseXML(mainData)
	if err != nil {
		return nil, errors.NewDocumentLoad(name, "malformed "+d.mainPart, err)
	}
	d.root = root
	d.docEl = firstChildElement(root, NSWordML, "document")
	if d.docEl == nil {
		return nil, errors.NewDocumentLoad(name, "main part has no w:document element", nil)
	}
	d.body = firstChildElement(d.docEl, NSWordML, "body")
	if d.body == nil {
		return nil, errors.NewDocumentLoad(name, "document has no w:body", nil)
	}

	if relData, ok := parts[relsPartName(d.mainPart)]; ok {
		rels, err := parseRelationships(relData)
		if err != nil {
			return nil, errors.NewDocumentLoad(name, "malformed "+relsPartName(d.mainPart), err)
		}
		for _, r := range rels {
			res := Resource{ID: r.ID, Type: r.Type, Target: r.Target, TargetMode: r.TargetMode}
			if !res.Mergeable() {
				d.rels = append(d.rels, r)
				continue
			}
			if !res.External() {
				part := resolveTarget(d.mainPart, r.Target)
				data, ok := parts[part]
				if !ok {
					return nil, errors.NewDocumentLoad(name, fmt.Sprintf("relationship %s targets missing part %s", r.ID, part), nil)
				}
				res.Data = data
				d.claimed[part] = true
			}
			if err := d.tables.Add(res); err != nil {
				return nil, errors.NewDocumentLoad(name, "duplicate relationship id", err)
			}
		}
	}
	return d, nil
}

// Path returns the file the document was loaded from, or "" for new documents.
func (d *Document) Path() string { return d.path }

// Resources returns the document's Resource Table.
func (d *Document) Resources() *ResourceTable { return d.tables }

// Body returns the top-level content nodes of the body, excluding the
// body-level section properties.
func (d *Document) Body() []*xmlquery.Node {
	var out []*xmlquery.Node
	for _, n := range childElements(d.body) {
		if !IsSection(n) {
			out = append(out, n)
		}
	}
	return out
}

// Section returns the body-level w:sectPr, or nil.
func (d *Document) Section() *xmlquery.Node {
	return firstChildElement(d.body, NSWordML, "sectPr")
}

// LastContent returns the last top-level content node, or nil when the body
// holds no content.
func (d *Document) LastContent() *xmlquery.Node {
	body := d.Body()
	if len(body) == 0 {
		return nil
	}
	return body[len(body)-1]
}

// AppendBody appends n to the body, ahead of the body-level section
// properties so the section stays last.
func (d *Document) AppendBody(n *xmlquery.Node) {
	if sect := d.Section(); sect != nil {
		insertBefore(sect, n)
		return
	}
	xmlquery.AddChild(d.body, n)
}

// RemovePlaceholder drops the single empty paragraph a blank document starts
// with. It reports whether anything was removed.
func (d *Document) RemovePlaceholder() bool {
	body := d.Body()
	if len(body) != 1 || !IsParagraph(body[0]) {
		return false
	}
	for _, c := range childElements(body[0]) {
		if !isElement(c, NSWordML, "pPr") {
			return false
		}
	}
	xmlquery.RemoveFromTree(body[0])
	return true
}

// HasRelationshipID reports whether id is used by any relationship of the
// main part, structural or resource.
func (d *Document) HasRelationshipID(id string) bool {
	if d.tables.Has(id) {
		return true
	}
	for _, r := range d.rels {
		if r.ID == id {
			return true
		}
	}
	return false
}

// RelationshipIDs returns the ids of every relationship of the main part:
// resources first, then structural and unmerged ones.
func (d *Document) RelationshipIDs() []string {
	ids := d.tables.IDs()
	for _, r := range d.rels {
		ids = append(ids, r.ID)
	}
	return ids
}

// NextResourceID allocates an rIdN id above every rIdN used by the
// document's relationships and by reserved.
func (d *Document) NextResourceID(reserved ...string) string {
	max := 0
	for _, id := range append(d.RelationshipIDs(), reserved...) {
		if m := ridPattern.FindStringSubmatch(id); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	for n := max + 1; ; n++ {
		id := "rId" + strconv.Itoa(n)
		if !d.HasRelationshipID(id) {
			return id
		}
	}
}

// AddResource registers r in the Resource Table. Internal resources whose
// part name is taken by different bytes are moved to a free part name; the
// registered resource (with its final Target) is returned.
func (d *Document) AddResource(r Resource) (Resource, error) {
	if d.HasRelationshipID(r.ID) {
		return Resource{}, fmt.Errorf("relationship id %s already in use", r.ID)
	}
	if !r.External() {
		r.Target = d.freeTarget(r)
	}
	if err := d.tables.Add(r); err != nil {
		return Resource{}, err
	}
	return r, nil
}

// freeTarget returns r.Target if the part it names is unused or already holds
// identical bytes, otherwise the first free "<stem>_<n><ext>" sibling.
// Targets are compared as resolved part names, so "media/a.png" and
// "/word/media/a.png" clash.
func (d *Document) freeTarget(r Resource) string {
	usable := func(target string) bool {
		part := resolveTarget(d.mainPart, target)
		if _, raw := d.parts[part]; raw && !d.claimed[part] {
			return false
		}
		existing, ok := d.tables.byPart(d.mainPart, part)
		return !ok || existing.SameAs(r)
	}
	if usable(r.Target) {
		return r.Target
	}
	ext := path.Ext(r.Target)
	stem := strings.TrimSuffix(r.Target, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if usable(candidate) {
			return candidate
		}
	}
}

// AdoptNamespaces declares on this document's root every namespace prefix
// declared by src's root that is not yet declared here, and extends
// mc:Ignorable with src's ignorable prefixes. Body content copied from src
// keeps its prefixes, so they must be bound in the output.
func (d *Document) AdoptNamespaces(src *Document) int {
	declared := make(map[string]string)
	for _, a := range d.docEl.Attr {
		if a.Name.Space == "xmlns" {
			declared[a.Name.Local] = a.Value
		}
	}
	added := 0
	for _, a := range src.docEl.Attr {
		if a.Name.Space != "xmlns" {
			continue
		}
		if _, ok := declared[a.Name.Local]; ok {
			continue
		}
		d.docEl.Attr = append(d.docEl.Attr, a)
		declared[a.Name.Local] = a.Value
		added++
	}

	srcIgnorable := ignorable(src.docEl)
	if len(srcIgnorable) == 0 {
		return added
	}
	tokens := ignorable(d.docEl)
	have := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		have[t] = true
	}
	for _, t := range srcIgnorable {
		if !have[t] {
			if _, bound := declared[t]; bound {
				tokens = append(tokens, t)
				have[t] = true
			}
		}
	}
	d.setIgnorable(tokens)
	return added
}

func ignorable(el *xmlquery.Node) []string {
	for _, a := range el.Attr {
		if a.NamespaceURI == NSMarkupCompat && a.Name.Local == "Ignorable" {
			return strings.Fields(a.Value)
		}
	}
	return nil
}

func (d *Document) setIgnorable(tokens []string) {
	value := strings.Join(tokens, " ")
	for i, a := range d.docEl.Attr {
		if a.NamespaceURI == NSMarkupCompat && a.Name.Local == "Ignorable" {
			d.docEl.Attr[i].Value = value
			return
		}
	}
	d.docEl.Attr = append(d.docEl.Attr, xmlquery.Attr{
		Name:         xmlName("mc", "Ignorable"),
		Value:        value,
		NamespaceURI: NSMarkupCompat,
	})
}

// Write serializes the package to w.
func (d *Document) Write(w io.Writer) error {
	zw := zip.NewWriter(w)

	types := *d.types
	types.Defaults = append([]ctDefault(nil), d.types.Defaults...)
	types.Overrides = append([]ctOverride(nil), d.types.Overrides...)

	resourceParts := make(map[string][]byte)
	var resourceOrder []string
	rels := append([]relationship(nil), d.rels...)
	for _, r := range d.tables.All() {
		rels = append(rels, relationship{ID: r.ID, Type: r.Type, Target: r.Target, TargetMode: r.TargetMode})
		if r.External() {
			continue
		}
		part := resolveTarget(d.mainPart, r.Target)
		if _, seen := resourceParts[part]; !seen {
			resourceOrder = append(resourceOrder, part)
		}
		resourceParts[part] = r.Data
		if types.lookup(part) == "" {
			ext := strings.TrimPrefix(path.Ext(part), ".")
			types.ensureDefault(ext, contentTypeForExtension(ext))
		}
	}

	ctData, err := types.marshal()
	if err != nil {
		return fmt.Errorf("marshal content types: %w", err)
	}
	relData, err := marshalRelationships(rels)
	if err != nil {
		return fmt.Errorf("marshal relationships: %w", err)
	}

	written := make(map[string]bool)
	put := func(name string, data []byte) error {
		if written[name] {
			return nil
		}
		written[name] = true
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	if err := put(contentTypesPart, ctData); err != nil {
		return err
	}
	for _, name := range d.partOrder {
		var err error
		switch {
		case name == contentTypesPart || d.claimed[name]:
			continue
		case name == d.mainPart:
			err = put(name, serializeXML(d.root))
		case name == relsPartName(d.mainPart):
			err = put(name, relData)
		default:
			err = put(name, d.parts[name])
		}
		if err != nil {
			return err
		}
	}
	if err := put(d.mainPart, serializeXML(d.root)); err != nil {
		return err
	}
	if err := put(relsPartName(d.mainPart), relData); err != nil {
		return err
	}
	for _, name := range resourceOrder {
		if err := put(name, resourceParts[name]); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Bytes serializes the package into memory.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the package to path, replacing it atomically.
func (d *Document) Save(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".docmerge-*.docx")
	if err != nil {
		return errors.NewIO("create", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIO("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIO("write", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIO("rename", path, err)
	}
	return nil
}
