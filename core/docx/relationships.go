package docx

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/blake3"
)

// Resource is one entry of a document's Resource Table: a relationship from
// the main document part to an image or an external target that body content
// references by id.
type Resource struct {
	ID         string
	Type       string // relationship type URI
	Target     string // relative to the main part's directory unless External
	TargetMode string // "" (internal) or "External"

	// Data holds the bytes of the target part for internal resources.
	Data []byte
}

// External reports whether the target lives outside the package.
func (r Resource) External() bool {
	return strings.EqualFold(r.TargetMode, "External")
}

// IsImage reports whether the relationship points at an image.
func (r Resource) IsImage() bool {
	return strings.HasSuffix(r.Type, "/image")
}

// IsHyperlink reports whether the relationship is a hyperlink.
func (r Resource) IsHyperlink() bool {
	return strings.HasSuffix(r.Type, "/hyperlink")
}

// Mergeable reports whether the relationship is carried across a merge:
// images (embedded or linked) and any externally targeted relationship.
func (r Resource) Mergeable() bool {
	return r.IsImage() || r.External()
}

// Digest returns the BLAKE3 hash of the part bytes, or "" for external targets.
func (r Resource) Digest() string {
	if r.External() {
		return ""
	}
	h := blake3.Sum256(r.Data)
	return hex.EncodeToString(h[:])
}

// SameAs reports whether two resources denote the same thing, ignoring ids
// and internal part names.
func (r Resource) SameAs(o Resource) bool {
	if r.Type != o.Type || r.External() != o.External() {
		return false
	}
	if r.External() {
		return r.Target == o.Target
	}
	return bytes.Equal(r.Data, o.Data)
}

// ResourceTable maps resource ids to resources, preserving registration order.
type ResourceTable struct {
	ids  []string
	byID map[string]Resource
}

// NewResourceTable returns an empty table.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{byID: make(map[string]Resource)}
}

// Len returns the number of entries.
func (t *ResourceTable) Len() int { return len(t.ids) }

// Has reports whether id is registered.
func (t *ResourceTable) Has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Get returns the resource registered under id.
func (t *ResourceTable) Get(id string) (Resource, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// Add registers r. Ids are unique within a table.
func (t *ResourceTable) Add(r Resource) error {
	if r.ID == "" {
		return fmt.Errorf("resource has no id")
	}
	if t.Has(r.ID) {
		return fmt.Errorf("resource id %s already registered", r.ID)
	}
	t.ids = append(t.ids, r.ID)
	t.byID[r.ID] = r
	return nil
}

// IDs returns the registered ids in registration order.
func (t *ResourceTable) IDs() []string {
	return append([]string(nil), t.ids...)
}

// All returns the resources in registration order.
func (t *ResourceTable) All() []Resource {
	out := make([]Resource, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.byID[id])
	}
	return out
}

// byPart returns the internal resource whose target, resolved against
// source, is part.
func (t *ResourceTable) byPart(source, part string) (Resource, bool) {
	for _, id := range t.ids {
		r := t.byID[id]
		if !r.External() && resolveTarget(source, r.Target) == part {
			return r, true
		}
	}
	return Resource{}, false
}

// relationship is one <Relationship> element of a .rels part.
type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

type relationshipsXML struct {
	XMLName       xml.Name       `xml:"http://schemas.openxmlformats.org/package/2006/relationships Relationships"`
	Relationships []relationship `xml:"Relationship"`
}

func parseRelationships(data []byte) ([]relationship, error) {
	var rels relationshipsXML
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil, err
	}
	return rels.Relationships, nil
}

func marshalRelationships(rels []relationship) ([]byte, error) {
	out, err := xml.Marshal(relationshipsXML{Relationships: rels})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// relsPartName returns the relationships part for a part, e.g.
// word/document.xml -> word/_rels/document.xml.rels.
func relsPartName(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

// resolveTarget turns a relationship target into a package part name,
// relative targets being resolved against the source part's directory.
func resolveTarget(sourcePart, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join(path.Dir(sourcePart), target))
}
