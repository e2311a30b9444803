package docx

import (
	"encoding/xml"
	"path"
	"strings"
)

const contentTypesPart = "[Content_Types].xml"

type ctDefault struct {
	Extension   string `xml:"Extension,attr"`
	ContentType string `xml:"ContentType,attr"`
}

type ctOverride struct {
	PartName    string `xml:"PartName,attr"`
	ContentType string `xml:"ContentType,attr"`
}

// contentTypes models [Content_Types].xml.
type contentTypes struct {
	XMLName   xml.Name     `xml:"http://schemas.openxmlformats.org/package/2006/content-types Types"`
	Defaults  []ctDefault  `xml:"Default"`
	Overrides []ctOverride `xml:"Override"`
}

func newContentTypes() *contentTypes {
	return &contentTypes{
		Defaults: []ctDefault{
			{Extension: "rels", ContentType: ContentTypeRelationships},
			{Extension: "xml", ContentType: "application/xml"},
		},
	}
}

func parseContentTypes(data []byte) (*contentTypes, error) {
	var ct contentTypes
	if err := xml.Unmarshal(data, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (c *contentTypes) marshal() ([]byte, error) {
	out, err := xml.Marshal(c)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// ensureDefault registers a Default entry for ext unless one exists.
func (c *contentTypes) ensureDefault(ext, contentType string) {
	for _, d := range c.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			return
		}
	}
	c.Defaults = append(c.Defaults, ctDefault{Extension: ext, ContentType: contentType})
}

// setOverride registers or replaces the Override entry for part.
func (c *contentTypes) setOverride(part, contentType string) {
	name := "/" + strings.TrimPrefix(part, "/")
	for i, o := range c.Overrides {
		if o.PartName == name {
			c.Overrides[i].ContentType = contentType
			return
		}
	}
	c.Overrides = append(c.Overrides, ctOverride{PartName: name, ContentType: contentType})
}

// lookup returns the content type of part, checking overrides first.
func (c *contentTypes) lookup(part string) string {
	name := "/" + strings.TrimPrefix(part, "/")
	for _, o := range c.Overrides {
		if strings.EqualFold(o.PartName, name) {
			return o.ContentType
		}
	}
	ext := strings.TrimPrefix(path.Ext(part), ".")
	for _, d := range c.Defaults {
		if strings.EqualFold(d.Extension, ext) {
			return d.ContentType
		}
	}
	return ""
}
