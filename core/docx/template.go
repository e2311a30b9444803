package docx

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed template
var templateFS embed.FS

// templatePart is one part of the blank document a merge starts from.
type templatePart struct {
	name        string
	contentType string
	relID       string // relationship id from the main part, "" if none
	relType     string
}

// Structural relationships use named ids so they never collide with rIdN
// ids allocated for merged resources.
var templateParts = []templatePart{
	{name: "word/document.xml", contentType: ContentTypeDocument},
	{name: "word/styles.xml", contentType: ContentTypeStyles, relID: "rIdStyles", relType: RelStyles},
	{name: "word/settings.xml", contentType: ContentTypeSettings, relID: "rIdSettings", relType: RelSettings},
	{name: "word/webSettings.xml", contentType: ContentTypeWebSettings, relID: "rIdWebSettings", relType: RelWebSettings},
	{name: "word/fontTable.xml", contentType: ContentTypeFontTable, relID: "rIdFontTable", relType: RelFontTable},
	{name: "docProps/core.xml", contentType: ContentTypeCoreProps},
	{name: "docProps/app.xml", contentType: ContentTypeExtendedProps},
}

// New returns a blank document: one empty paragraph, default styles and a
// Letter-sized section.
func New() (*Document, error) {
	parts := make(map[string][]byte, len(templateParts)+3)
	order := []string{contentTypesPart, packageRelsPart}

	types := newContentTypes()
	var mainRels []relationship
	for _, p := range templateParts {
		data, err := fs.ReadFile(templateFS, "template/"+p.name)
		if err != nil {
			return nil, fmt.Errorf("template part %s: %w", p.name, err)
		}
		parts[p.name] = data
		order = append(order, p.name)
		types.setOverride(p.name, p.contentType)
		if p.relID != "" {
			mainRels = append(mainRels, relationship{
				ID:     p.relID,
				Type:   p.relType,
				Target: p.name[len("word/"):],
			})
		}
	}

	ctData, err := types.marshal()
	if err != nil {
		return nil, err
	}
	parts[contentTypesPart] = ctData

	pkgRels, err := marshalRelationships([]relationship{
		{ID: "rId1", Type: RelOfficeDocument, Target: defaultMainPart},
		{ID: "rId2", Type: RelCoreProps, Target: "docProps/core.xml"},
		{ID: "rId3", Type: RelExtendedProps, Target: "docProps/app.xml"},
	})
	if err != nil {
		return nil, err
	}
	parts[packageRelsPart] = pkgRels

	docRels, err := marshalRelationships(mainRels)
	if err != nil {
		return nil, err
	}
	parts[relsPartName(defaultMainPart)] = docRels
	order = append(order, relsPartName(defaultMainPart))

	d, err := fromParts("", parts, order)
	if err != nil {
		return nil, fmt.Errorf("blank document: %w", err)
	}
	return d, nil
}
