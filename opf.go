package epub

import (
	"encoding/xml"
	"fmt"
	"slices"
	"strings"
	"time"
)

// opfPackage represents the root <package> element of an OPF file.
type opfPackage struct {
	XMLName          xml.Name    `xml:"package"`
	Version          string      `xml:"version,attr"`
	UniqueIdentifier string      `xml:"unique-identifier,attr"`
	Metadata         opfMetadata `xml:"metadata"`
	Manifest         opfManifest `xml:"manifest"`
	Spine            opfSpine    `xml:"spine"`
}

// opfMetadata holds the metadata elements checked when verifying a package.
type opfMetadata struct {
	Titles      []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ title"`
	Languages   []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Creators    []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Metas       []opfMeta      `xml:"meta"`
}

// opfDCElement holds a Dublin Core element.
type opfDCElement struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

// opfMeta is a <meta> element. The generator writes both the name/content
// form (cover) and the property form (dcterms:modified).
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Value    string `xml:",chardata"`
}

// opfManifest wraps the <manifest> element.
type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

// opfManifestItem represents a single <item> in the manifest.
type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// opfSpine wraps the <spine> element.
type opfSpine struct {
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

// opfSpineItemRef represents a single <itemref> in the spine.
type opfSpineItemRef struct {
	IDRef string `xml:"idref,attr"`
}

// parseOPF parses the package document. Only the parts Verify inspects are
// decoded.
func parseOPF(data []byte) (*opfPackage, error) {
	data = stripBOM(data)

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("epub: parse OPF: %w", err)
	}
	return &pkg, nil
}

// metaContent returns the content of the first <meta name="..."> element.
// Generated packages use it only for the cover declaration.
func (m *opfMetadata) metaContent(name string) (string, bool) {
	for _, meta := range m.Metas {
		if meta.Name == name {
			return meta.Content, true
		}
	}
	return "", false
}

// modified parses dcterms:modified. ePub 3 requires exactly one, in UTC
// with second precision.
func (m *opfMetadata) modified() (time.Time, error) {
	n := 0
	var raw string
	for _, meta := range m.Metas {
		if meta.Property == "dcterms:modified" {
			n++
			raw = strings.TrimSpace(meta.Value)
		}
	}
	if n != 1 {
		return time.Time{}, fmt.Errorf("epub: found %d dcterms:modified, want 1", n)
	}
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("epub: dcterms:modified %q: %w", raw, err)
	}
	return t, nil
}

// itemsWithProperty returns the manifest items whose properties list
// contains prop.
func (m *opfManifest) itemsWithProperty(prop string) []opfManifestItem {
	var items []opfManifestItem
	for _, item := range m.Items {
		if slices.Contains(strings.Fields(item.Properties), prop) {
			items = append(items, item)
		}
	}
	return items
}
