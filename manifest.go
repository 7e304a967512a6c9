package epub

import "fmt"

// Fixed part names inside the package root.
const (
	chapterID   = "chapter1"
	chapterHref = "chapter1.xhtml"
	navID       = "nav"
	navHref     = "nav.xhtml"
	styleID     = "style"
	styleHref   = "style.css"

	mediaTypeXHTML = "application/xhtml+xml"
	mediaTypeCSS   = "text/css"
)

// buildManifest derives the manifest and spine for a single-chapter package.
// The manifest lists the content document, the navigation document, the
// stylesheet and, unless images are inlined, one entry per image in id
// order. The first image carries the cover-image property, and the content
// document carries chapterProps (e.g. "svg").
//
// A duplicate id or href is a programming error and is reported as ErrRender.
func buildManifest(images []ImageAsset, inline bool, chapterProps string) ([]ManifestEntry, []string, error) {
	manifest := []ManifestEntry{
		{ID: chapterID, Href: chapterHref, MediaType: mediaTypeXHTML, Properties: chapterProps},
		{ID: navID, Href: navHref, MediaType: mediaTypeXHTML, Properties: "nav"},
		{ID: styleID, Href: styleHref, MediaType: mediaTypeCSS},
	}
	if !inline {
		for i, img := range images {
			e := ManifestEntry{ID: img.InternalID, Href: img.Href(), MediaType: img.MediaType}
			if i == 0 {
				e.Properties = "cover-image"
			}
			manifest = append(manifest, e)
		}
	}
	spine := []string{chapterID}

	if err := checkManifest(manifest, spine); err != nil {
		return nil, nil, err
	}
	return manifest, spine, nil
}

// checkManifest verifies that ids and hrefs are unique and that every spine
// idref names a manifest entry.
func checkManifest(manifest []ManifestEntry, spine []string) error {
	ids := make(map[string]bool, len(manifest))
	hrefs := make(map[string]bool, len(manifest))
	for _, e := range manifest {
		if e.ID == "" || e.Href == "" {
			return fmt.Errorf("epub: manifest entry %q has empty id or href: %w", e.ID+e.Href, ErrRender)
		}
		if ids[e.ID] {
			return fmt.Errorf("epub: duplicate manifest id %q: %w", e.ID, ErrRender)
		}
		if hrefs[e.Href] {
			return fmt.Errorf("epub: duplicate manifest href %q: %w", e.Href, ErrRender)
		}
		ids[e.ID] = true
		hrefs[e.Href] = true
	}
	for _, idref := range spine {
		if !ids[idref] {
			return fmt.Errorf("epub: spine references unknown id %q: %w", idref, ErrRender)
		}
	}
	return nil
}
