package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Well-known archive paths.
const (
	mimetypePath  = "mimetype"
	containerPath = "META-INF/container.xml"
	packageRoot   = "OEBPS"
	opfPath       = packageRoot + "/content.opf"
)

// expectedMimetype is the required content of the "mimetype" entry.
const expectedMimetype = "application/epub+zip"

const opfMediaType = "application/oebps-package+xml"

// containerXML models the META-INF/container.xml file used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

// rootFile represents a single <rootfile> element inside container.xml.
type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// renderContainer returns the OCF container descriptor pointing at the
// package document.
func renderContainer() []byte {
	var b strings.Builder
	b.WriteString(xmlDeclaration)
	b.WriteString(`<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">` + "\n")
	b.WriteString("  <rootfiles>\n")
	fmt.Fprintf(&b, "    <rootfile full-path=\"%s\" media-type=\"%s\"/>\n", opfPath, opfMediaType)
	b.WriteString("  </rootfiles>\n")
	b.WriteString("</container>\n")
	return []byte(b.String())
}

// parseContainerXML decodes container.xml data and returns the full-path of
// the package document rootfile.
func parseContainerXML(data []byte) (string, error) {
	data = stripBOM(data)

	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("epub: parse container.xml: %w", err)
	}
	if len(c.RootFiles) == 0 {
		return "", fmt.Errorf("epub: container.xml has no rootfile entries: %w", ErrRender)
	}

	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), opfMediaType) {
			return fullPath, nil
		}
	}
	return "", fmt.Errorf("epub: container.xml has no %s rootfile: %w", opfMediaType, ErrRender)
}
