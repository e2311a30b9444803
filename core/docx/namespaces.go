package docx

import "strings"

// XML namespaces used by WordprocessingML packages.
const (
	NSWordML        = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	NSRelationships = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	NSStrictRels    = "http://purl.oclc.org/ooxml/officeDocument/relationships"
	NSOffice        = "urn:schemas-microsoft-com:office:office"
	NSMarkupCompat  = "http://schemas.openxmlformats.org/markup-compatibility/2006"
	NSPackageRels   = "http://schemas.openxmlformats.org/package/2006/relationships"
	NSContentTypes  = "http://schemas.openxmlformats.org/package/2006/content-types"
)

// Relationship types.
const (
	RelOfficeDocument = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	RelImage          = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
	RelHyperlink      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink"
	RelStyles         = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	RelSettings       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/settings"
	RelWebSettings    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/webSettings"
	RelFontTable      = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/fontTable"
	RelCoreProps      = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties"
	RelExtendedProps  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/extended-properties"
)

// Content types of the parts a merged package is built from.
const (
	ContentTypeDocument      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	ContentTypeStyles        = "application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"
	ContentTypeSettings      = "application/vnd.openxmlformats-officedocument.wordprocessingml.settings+xml"
	ContentTypeWebSettings   = "application/vnd.openxmlformats-officedocument.wordprocessingml.webSettings+xml"
	ContentTypeFontTable     = "application/vnd.openxmlformats-officedocument.wordprocessingml.fontTable+xml"
	ContentTypeCoreProps     = "application/vnd.openxmlformats-package.core-properties+xml"
	ContentTypeExtendedProps = "application/vnd.openxmlformats-officedocument.extended-properties+xml"
	ContentTypeRelationships = "application/vnd.openxmlformats-package.relationships+xml"

	// MediaType is the MIME type of a .docx file.
	MediaType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// imageContentTypes maps media extensions to the content type registered
// for them in [Content_Types].xml.
var imageContentTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"emf":  "image/x-emf",
	"wmf":  "image/x-wmf",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
}

func contentTypeForExtension(ext string) string {
	if ct, ok := imageContentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// isRelationshipNamespace reports whether an attribute namespace carries
// relationship ids (r:embed, r:link, r:id, ...).
func isRelationshipNamespace(ns string) bool {
	return ns == NSRelationships || ns == NSStrictRels
}
