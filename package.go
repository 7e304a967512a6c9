package epub

import (
	"fmt"
	"strings"
	"time"
)

const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// packageVersion is the ePub version declared in the package document.
const packageVersion = "3.0"

// timestampLayout is the W3CDTF form required by dcterms:modified.
const timestampLayout = "2006-01-02T15:04:05Z"

// xmlEscaper replaces the five reserved XML characters with their entities.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// escapeXML escapes s for use in XML text and attribute values. Characters
// that XML 1.0 does not allow are removed.
func escapeXML(s string) string {
	return xmlEscaper.Replace(stripInvalidXMLChars(s))
}

// formatTimestamp renders t in UTC with second precision.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// renderPackageDocument renders OEBPS/content.opf.
func renderPackageDocument(p *Package) []byte {
	var b strings.Builder
	b.WriteString(xmlDeclaration)
	fmt.Fprintf(&b, "<package xmlns=\"http://www.idpf.org/2007/opf\" version=\"%s\" unique-identifier=\"bookid\" xml:lang=\"%s\">\n",
		packageVersion, escapeXML(p.Language))

	ts := formatTimestamp(p.CreatedAt)
	b.WriteString("  <metadata xmlns:dc=\"http://purl.org/dc/elements/1.1/\">\n")
	fmt.Fprintf(&b, "    <dc:identifier id=\"bookid\">urn:uuid:%s</dc:identifier>\n", escapeXML(p.Identifier))
	fmt.Fprintf(&b, "    <dc:title>%s</dc:title>\n", escapeXML(p.Title))
	fmt.Fprintf(&b, "    <dc:language>%s</dc:language>\n", escapeXML(p.Language))
	fmt.Fprintf(&b, "    <dc:creator>%s</dc:creator>\n", escapeXML(p.Creator))
	fmt.Fprintf(&b, "    <dc:date>%s</dc:date>\n", ts)
	fmt.Fprintf(&b, "    <meta property=\"dcterms:modified\">%s</meta>\n", ts)
	if p.CoverID != "" {
		fmt.Fprintf(&b, "    <meta name=\"cover\" content=\"%s\"/>\n", escapeXML(p.CoverID))
	}
	b.WriteString("  </metadata>\n")

	b.WriteString("  <manifest>\n")
	for _, e := range p.Manifest {
		fmt.Fprintf(&b, "    <item id=\"%s\" href=\"%s\" media-type=\"%s\"", escapeXML(e.ID), escapeXML(e.Href), escapeXML(e.MediaType))
		if e.Properties != "" {
			fmt.Fprintf(&b, " properties=\"%s\"", escapeXML(e.Properties))
		}
		b.WriteString("/>\n")
	}
	b.WriteString("  </manifest>\n")

	b.WriteString("  <spine>\n")
	for _, idref := range p.Spine {
		fmt.Fprintf(&b, "    <itemref idref=\"%s\"/>\n", escapeXML(idref))
	}
	b.WriteString("  </spine>\n")

	// ePub 2 reading systems use the guide to find the start of the text.
	if len(p.Spine) > 0 {
		if start, ok := p.entry(p.Spine[0]); ok {
			b.WriteString("  <guide>\n")
			fmt.Fprintf(&b, "    <reference type=\"text\" title=\"%s\" href=\"%s\"/>\n", escapeXML(p.Title), escapeXML(start.Href))
			b.WriteString("  </guide>\n")
		}
	}
	b.WriteString("</package>\n")
	return []byte(b.String())
}

// renderNav renders the navigation document with a single entry.
func renderNav(p *Package) []byte {
	title := escapeXML(p.Title)
	var b strings.Builder
	writeXHTMLHead(&b, p.Language, title, false)
	b.WriteString("  <nav epub:type=\"toc\" id=\"toc\">\n")
	fmt.Fprintf(&b, "    <h1>%s</h1>\n", title)
	b.WriteString("    <ol>\n")
	fmt.Fprintf(&b, "      <li><a href=\"%s\">%s</a></li>\n", chapterHref, title)
	b.WriteString("    </ol>\n")
	b.WriteString("  </nav>\n")
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

// renderChapter wraps the sanitised body markup in the content document shell.
// body is inserted verbatim.
func renderChapter(p *Package, body string) []byte {
	title := escapeXML(p.Title)
	var b strings.Builder
	writeXHTMLHead(&b, p.Language, title, true)
	fmt.Fprintf(&b, "  <h1 class=\"book-title\">%s</h1>\n", title)
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

// writeXHTMLHead writes everything up to and including the opening <body> tag.
// title must already be escaped.
func writeXHTMLHead(b *strings.Builder, lang, title string, stylesheet bool) {
	lang = escapeXML(lang)
	b.WriteString(xmlDeclaration)
	b.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(b, "<html xmlns=\"http://www.w3.org/1999/xhtml\" xmlns:epub=\"http://www.idpf.org/2007/ops\" lang=\"%s\" xml:lang=\"%s\">\n", lang, lang)
	b.WriteString("<head>\n")
	b.WriteString("  <meta charset=\"UTF-8\"/>\n")
	fmt.Fprintf(b, "  <title>%s</title>\n", title)
	if stylesheet {
		fmt.Fprintf(b, "  <link rel=\"stylesheet\" type=\"text/css\" href=\"%s\"/>\n", styleHref)
	}
	b.WriteString("</head>\n")
	b.WriteString("<body>\n")
}

// renderStylesheet returns the package stylesheet using font as the primary family.
func renderStylesheet(font string) []byte {
	var b strings.Builder
	b.WriteString("@charset \"UTF-8\";\n\n")
	fmt.Fprintf(&b, "body {\n  font-family: %s, serif;\n  line-height: 1.6;\n  margin: 0;\n  padding: 0;\n  text-align: justify;\n}\n\n", cssFontFamily(font))
	b.WriteString("h1.book-title {\n  font-size: 1.5em;\n  font-weight: bold;\n  line-height: 1.2;\n  margin: 0.67em 0;\n  text-align: center;\n}\n\n")
	b.WriteString("h1, h2, h3, h4, h5, h6 {\n  margin: 1.5em 0 0.5em 0;\n  page-break-after: avoid;\n}\n\n")
	b.WriteString("p {\n  margin: 1em 0;\n  text-indent: 2em;\n}\n\n")
	b.WriteString("img {\n  max-width: 100%;\n  height: auto;\n  display: block;\n  margin: 1em auto;\n}\n\n")
	b.WriteString("a {\n  color: #0066cc;\n  text-decoration: none;\n}\n\n")
	b.WriteString(".page-break {\n  page-break-before: always;\n}\n")
	return []byte(b.String())
}

// cssFontFamily quotes a single font name that contains spaces. Lists
// ("Georgia, Times") are written unchanged.
func cssFontFamily(font string) string {
	font = strings.TrimSpace(font)
	if strings.ContainsAny(font, " \t") && !strings.Contains(font, ",") && !strings.HasPrefix(font, `"`) && !strings.HasPrefix(font, "'") {
		return `"` + strings.ReplaceAll(font, `"`, "") + `"`
	}
	return font
}
