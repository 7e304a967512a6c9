package epub

import (
	"path"
	"time"
)

// Article is the extracted input for a single generation.
type Article struct {
	// Title is the article title. A blank title is replaced by
	// Options.DefaultTitle.
	Title string

	// Body is the article markup (an HTML fragment).
	Body string

	// BaseURL is the address the article was extracted from. Relative image
	// sources are resolved against it; when empty they are dropped.
	BaseURL string
}

// ImageAsset is an image acquired for embedding in the package.
type ImageAsset struct {
	// SourceLocator is the image address exactly as found in the content
	// (after resolution against Article.BaseURL).
	SourceLocator string

	// MediaType is the MIME type of the image (e.g., "image/jpeg").
	MediaType string

	// Data is the raw image bytes.
	Data []byte

	// InternalID is the package-local name ("image0", "image1", ...).
	InternalID string
}

// Href returns the path of the asset relative to the package document.
func (a ImageAsset) Href() string {
	return path.Join(imagesDir, a.InternalID+"."+extensionForMediaType(a.MediaType))
}

// ManifestEntry is one <item> of the package manifest.
type ManifestEntry struct {
	// ID is unique within the package.
	ID string

	// Href is the path relative to the package document.
	Href string

	// MediaType is the MIME type of the part.
	MediaType string

	// Properties contains space-separated ePub 3 properties ("nav", "cover-image").
	Properties string
}

// Package holds everything needed to render the XML parts of one book.
// A Package is created per Generate call and never shared.
type Package struct {
	// Identifier is the UUID used in the urn:uuid: book identifier.
	Identifier string

	// Title is the unescaped book title.
	Title string

	// Language is a BCP 47 tag.
	Language string

	// Creator is the dc:creator label.
	Creator string

	// CreatedAt is rendered as dc:date and dcterms:modified.
	CreatedAt time.Time

	// Manifest lists every part in insertion order.
	Manifest []ManifestEntry

	// Spine lists manifest ids in reading order.
	Spine []string

	// CoverID is the manifest id of the cover image, or empty when the
	// package has no images.
	CoverID string
}

// entry returns the manifest entry with the given id.
func (p *Package) entry(id string) (ManifestEntry, bool) {
	for _, e := range p.Manifest {
		if e.ID == id {
			return e, true
		}
	}
	return ManifestEntry{}, false
}
