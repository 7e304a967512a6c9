package epub

import (
	"bytes"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// documentRefs holds the references found in an XHTML document.
type documentRefs struct {
	images []string
	links  []string

	// resources holds every other resource the document loads: media
	// sources, posters, stylesheets, SVG <use> targets.
	resources []string

	hasTOC bool
}

// collectReferences tokenizes htmlData and returns the src of every <img>
// and SVG <image>, the href of every <a> and <area>, the other resource
// attributes of any element, and whether a <nav epub:type="toc"> is present.
func collectReferences(htmlData []byte) documentRefs {
	var refs documentRefs
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlData))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return refs
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if !hasAttr {
				continue
			}
			a := atom.Lookup(tn)
			for {
				key, val, more := tokenizer.TagAttr()
				k, v := string(key), strings.TrimSpace(string(val))
				isHref := k == "href" || k == "xlink:href"
				switch {
				case a == atom.Img && k == "src":
					refs.images = append(refs.images, v)
				case a == atom.Image && isHref:
					refs.images = append(refs.images, v)
				case (a == atom.A || a == atom.Area) && isHref:
					refs.links = append(refs.links, v)
				case isHref || resourceAttrs[k]:
					refs.resources = append(refs.resources, v)
				case a == atom.Nav && k == "epub:type":
					if slices.Contains(strings.Fields(v), "toc") {
						refs.hasTOC = true
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// hrefWithoutFragment strips the fragment identifier from href.
func hrefWithoutFragment(href string) string {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[:idx]
	}
	return href
}

// hasURIScheme reports whether s starts with a URI scheme like "mailto:" or
// "https:".
func hasURIScheme(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	// RFC 3986: URI scheme must start with a letter.
	if !((s[0] >= 'A' && s[0] <= 'Z') || (s[0] >= 'a' && s[0] <= 'z')) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' {
			return i > 1
		}
		if !(c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return false
}
