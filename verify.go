package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Verify checks the structural invariants of an ePub blob:
//   - the first entry is "mimetype", stored, containing "application/epub+zip"
//   - container.xml points to a package document present in the archive
//   - manifest ids and hrefs are unique and every href exists in the archive
//   - every spine idref names a manifest item
//   - exactly one manifest item is the navigation document
//   - a declared cover references an image manifest item
//   - every XHTML part is well-formed XML with all prefixes declared
//   - svg and mathml properties match the foreign content of each part
//   - images, relative links and other resource references in XHTML parts
//     resolve to manifest items
//   - the navigation document contains a toc nav
//   - the package is version 3.0 with a single dcterms:modified
//
// Failures wrap ErrRender.
func Verify(blob []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return fmt.Errorf("epub: open archive: %v: %w", err, ErrRender)
	}
	if len(zr.File) == 0 {
		return fmt.Errorf("epub: archive is empty: %w", ErrRender)
	}

	first := zr.File[0]
	if first.Name != mimetypePath {
		return fmt.Errorf("epub: first entry is %q, want %q: %w", first.Name, mimetypePath, ErrRender)
	}
	if first.Method != zip.Store {
		return fmt.Errorf("epub: mimetype entry is compressed: %w", ErrRender)
	}
	if len(first.Extra) != 0 {
		return fmt.Errorf("epub: mimetype entry has an extra field: %w", ErrRender)
	}
	mt, err := readZipFile(first)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrRender)
	}
	if string(mt) != expectedMimetype {
		return fmt.Errorf("epub: unexpected mimetype %q: %w", string(mt), ErrRender)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if _, dup := files[f.Name]; dup {
			return fmt.Errorf("epub: duplicate archive entry %q: %w", f.Name, ErrRender)
		}
		files[f.Name] = f
	}

	cf, ok := files[containerPath]
	if !ok {
		return fmt.Errorf("epub: %s missing: %w", containerPath, ErrRender)
	}
	data, err := readZipFile(cf)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrRender)
	}
	rootPath, err := parseContainerXML(data)
	if err != nil {
		return errors.Join(err, ErrRender)
	}

	of, ok := files[rootPath]
	if !ok {
		return fmt.Errorf("epub: package document %s missing: %w", rootPath, ErrRender)
	}
	data, err = readZipFile(of)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrRender)
	}
	pkg, err := parseOPF(data)
	if err != nil {
		return errors.Join(err, ErrRender)
	}

	return verifyPackage(pkg, rootPath, files)
}

func verifyPackage(pkg *opfPackage, rootPath string, files map[string]*zip.File) error {
	if pkg.Version != packageVersion {
		return fmt.Errorf("epub: package version %q, want %q: %w", pkg.Version, packageVersion, ErrRender)
	}
	if _, err := pkg.Metadata.modified(); err != nil {
		return errors.Join(err, ErrRender)
	}
	if len(pkg.Metadata.Titles) == 0 || strings.TrimSpace(pkg.Metadata.Titles[0].Value) == "" {
		return fmt.Errorf("epub: package has no title: %w", ErrRender)
	}
	if len(pkg.Metadata.Languages) == 0 {
		return fmt.Errorf("epub: package has no language: %w", ErrRender)
	}
	if !slices.ContainsFunc(pkg.Metadata.Identifiers, func(id opfDCElement) bool {
		return id.ID == pkg.UniqueIdentifier && strings.TrimSpace(id.Value) != ""
	}) {
		return fmt.Errorf("epub: unique-identifier %q not found: %w", pkg.UniqueIdentifier, ErrRender)
	}

	byID := make(map[string]opfManifestItem, len(pkg.Manifest.Items))
	hrefs := make(map[string]bool, len(pkg.Manifest.Items))
	navCount := 0
	for _, item := range pkg.Manifest.Items {
		if _, dup := byID[item.ID]; dup {
			return fmt.Errorf("epub: duplicate manifest id %q: %w", item.ID, ErrRender)
		}
		if hrefs[item.Href] {
			return fmt.Errorf("epub: duplicate manifest href %q: %w", item.Href, ErrRender)
		}
		byID[item.ID] = item
		hrefs[item.Href] = true

		full := resolveRelativePath(rootPath, item.Href)
		f, ok := files[full]
		if full == "" || !ok {
			return fmt.Errorf("epub: manifest item %q points to missing %s: %w", item.ID, item.Href, ErrRender)
		}
		if slices.Contains(strings.Fields(item.Properties), "nav") {
			navCount++
		}
		if item.MediaType == mediaTypeXHTML {
			spaces, err := checkWellFormed(f)
			if err != nil {
				return err
			}
			if err := checkForeignProperties(item, spaces); err != nil {
				return err
			}
		}
	}
	for _, item := range pkg.Manifest.Items {
		if item.MediaType != mediaTypeXHTML {
			continue
		}
		full := resolveRelativePath(rootPath, item.Href)
		isNav := slices.Contains(strings.Fields(item.Properties), "nav")
		if err := checkReferences(files[full], full, rootPath, hrefs, isNav); err != nil {
			return err
		}
	}
	if navCount != 1 {
		return fmt.Errorf("epub: found %d navigation documents, want 1: %w", navCount, ErrRender)
	}

	if len(pkg.Spine.ItemRefs) == 0 {
		return fmt.Errorf("epub: spine is empty: %w", ErrRender)
	}
	for _, ref := range pkg.Spine.ItemRefs {
		if _, ok := byID[ref.IDRef]; !ok {
			return fmt.Errorf("epub: spine references unknown id %q: %w", ref.IDRef, ErrRender)
		}
	}

	if coverID, ok := pkg.Metadata.metaContent("cover"); ok {
		item, found := byID[coverID]
		if !found || !strings.HasPrefix(item.MediaType, "image/") {
			return fmt.Errorf("epub: cover %q is not an image manifest item: %w", coverID, ErrRender)
		}
	}
	for _, item := range pkg.Manifest.itemsWithProperty("cover-image") {
		if !strings.HasPrefix(item.MediaType, "image/") {
			return fmt.Errorf("epub: cover-image %q is not an image: %w", item.ID, ErrRender)
		}
	}
	return nil
}

// checkReferences verifies that every image and relative link in the XHTML
// part f names a manifest item. When nav is set, the part must also contain
// a toc nav element.
func checkReferences(f *zip.File, docPath, rootPath string, manifestHrefs map[string]bool, nav bool) error {
	data, err := readZipFile(f)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrRender)
	}
	refs := collectReferences(data)
	if nav && !refs.hasTOC {
		return fmt.Errorf("epub: %s has no toc nav: %w", docPath, ErrRender)
	}

	// Manifest hrefs are relative to the package document; references are
	// relative to the containing document.
	known := func(ref string) bool {
		target := resolveRelativePath(docPath, hrefWithoutFragment(ref))
		for href := range manifestHrefs {
			if resolveRelativePath(rootPath, href) == target {
				return true
			}
		}
		return false
	}
	for _, src := range refs.images {
		if isImageDataURI(src) {
			continue
		}
		if hasURIScheme(src) || !known(src) {
			return fmt.Errorf("epub: %s references image %q outside the manifest: %w", docPath, src, ErrRender)
		}
	}
	for _, src := range refs.resources {
		if src == "" || strings.HasPrefix(src, "#") || isImageDataURI(src) {
			continue
		}
		if hasURIScheme(src) || !known(src) {
			return fmt.Errorf("epub: %s loads resource %q outside the manifest: %w", docPath, src, ErrRender)
		}
	}
	for _, href := range refs.links {
		if href == "" || strings.HasPrefix(href, "#") || hasURIScheme(href) {
			continue
		}
		if !known(href) {
			return fmt.Errorf("epub: %s links to %q outside the manifest: %w", docPath, href, ErrRender)
		}
	}
	return nil
}

// checkWellFormed decodes every token of an XHTML part and checks its
// namespaces. It returns the set of element namespaces in use.
func checkWellFormed(f *zip.File) (map[string]bool, error) {
	data, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrRender)
	}
	dec := xml.NewDecoder(bytes.NewReader(stripBOM(data)))
	dec.Strict = true
	spaces := make(map[string]bool)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return spaces, nil
		}
		if err != nil {
			return nil, fmt.Errorf("epub: %s is not well-formed: %v: %w", f.Name, err, ErrRender)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if err := checkNamespaces(se); err != nil {
			return nil, fmt.Errorf("epub: %s: %v: %w", f.Name, err, ErrRender)
		}
		spaces[se.Name.Space] = true
	}
}

// checkNamespaces reports elements without a namespace, prefixes that were
// never declared, and svg or math elements outside their own namespace.
// The decoder leaves an undeclared prefix in Name.Space instead of a URI.
func checkNamespaces(se xml.StartElement) error {
	if se.Name.Space == "" {
		return fmt.Errorf("element <%s> has no namespace", se.Name.Local)
	}
	if isUndeclaredPrefix(se.Name.Space) {
		return fmt.Errorf("element <%s:%s> uses an undeclared prefix", se.Name.Space, se.Name.Local)
	}
	for _, a := range se.Attr {
		if isUndeclaredPrefix(a.Name.Space) {
			return fmt.Errorf("attribute %s:%s on <%s> uses an undeclared prefix", a.Name.Space, a.Name.Local, se.Name.Local)
		}
	}
	switch {
	case se.Name.Local == "svg" && se.Name.Space != svgNamespace,
		se.Name.Local == "math" && se.Name.Space != mathNamespace:
		return fmt.Errorf("<%s> is outside its namespace (%s)", se.Name.Local, se.Name.Space)
	}
	return nil
}

func isUndeclaredPrefix(space string) bool {
	return space != "" && space != xmlnsAttrPrefix && !strings.Contains(space, ":")
}

// checkForeignProperties verifies that an XHTML manifest item declares the
// svg and mathml properties exactly when the part contains such elements.
func checkForeignProperties(item opfManifestItem, spaces map[string]bool) error {
	props := strings.Fields(item.Properties)
	for _, fc := range []struct{ prop, ns string }{
		{"mathml", mathNamespace},
		{"svg", svgNamespace},
	} {
		declared := slices.Contains(props, fc.prop)
		switch {
		case spaces[fc.ns] && !declared:
			return fmt.Errorf("epub: %s contains %s without the %q property: %w", item.Href, fc.prop, fc.prop, ErrRender)
		case declared && !spaces[fc.ns]:
			return fmt.Errorf("epub: %s declares the %q property without such content: %w", item.Href, fc.prop, ErrRender)
		}
	}
	return nil
}
