package epub

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Inline style declarations appended by normalize.
const (
	paragraphStyle = "margin: 1em 0; text-indent: 2em"
	headingStyle   = "margin: 1.5em 0 0.5em 0; page-break-after: avoid"
	imageStyle     = "max-width: 100%; height: auto; display: block; margin: 1em auto"
	pageBreakStyle = "page-break-before: always"
	pageBreakClass = "page-break"
)

// removedTags are dropped together with their subtree. Raw-text elements are
// included because html.Render writes their children unescaped.
var removedTags = map[atom.Atom]bool{
	atom.Script:    true,
	atom.Style:     true,
	atom.Noscript:  true,
	atom.Iframe:    true,
	atom.Object:    true,
	atom.Embed:     true,
	atom.Noembed:   true,
	atom.Noframes:  true,
	atom.Plaintext: true,
	atom.Xmp:       true,
	atom.Template:  true,
	atom.Title:     true,
	atom.Meta:      true,
	atom.Link:      true,
	atom.Base:      true,
}

// mediaTags reference audio, video or text tracks that are never packaged.
var mediaTags = map[atom.Atom]bool{
	atom.Video:  true,
	atom.Audio:  true,
	atom.Source: true,
	atom.Track:  true,
}

// resourceAttrs name HTML attributes, other than img src, that load an
// external resource into the page.
var resourceAttrs = map[string]bool{
	"src":        true,
	"srcset":     true,
	"poster":     true,
	"background": true,
	"data":       true,
}

// Namespaces of the foreign content kept in the chapter.
const (
	svgNamespace    = "http://www.w3.org/2000/svg"
	mathNamespace   = "http://www.w3.org/1998/Math/MathML"
	xlinkNamespace  = "http://www.w3.org/1999/xlink"
	xmlnsAttrPrefix = "xmlns"
)

var headingTags = map[atom.Atom]bool{
	atom.H1: true,
	atom.H2: true,
	atom.H3: true,
	atom.H4: true,
	atom.H5: true,
	atom.H6: true,
}

// content is a parsed article body. The fragment is held under a synthetic
// <body> element that is never rendered itself.
type content struct {
	body *html.Node

	// locators holds the distinct image sources in first-encounter order.
	locators []string
}

// parseContent parses an HTML fragment, removes unsafe or non-XML-compatible
// markup, and collects the image locators it references. Relative image
// sources are resolved against baseURL; images whose source cannot be
// resolved are removed.
func parseContent(markup, baseURL string) (*content, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, fmt.Errorf("epub: parse content: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	cleanNode(body)

	var base *url.URL
	if strings.TrimSpace(baseURL) != "" {
		if u, err := url.Parse(strings.TrimSpace(baseURL)); err == nil && u.IsAbs() {
			base = u
		}
	}

	walkElements(body, atom.A, func(a *html.Node) bool {
		resolveLinkAttrs(a, base)
		return true
	})

	c := &content{body: body}
	seen := make(map[string]bool)
	walkElements(body, atom.Img, func(img *html.Node) bool {
		loc := resolveLocator(getAttr(img, "src"), base)
		if loc == "" {
			return false
		}
		setAttr(img, "src", loc)
		if !seen[loc] {
			seen[loc] = true
			c.locators = append(c.locators, loc)
		}
		return true
	})
	return c, nil
}

// resolveLocator returns the absolute address for an image src value, or ""
// when it cannot be fetched. Absolute http(s) and data:image sources are
// returned unchanged so that locator matching stays exact.
func resolveLocator(src string, base *url.URL) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	if isImageDataURI(src) {
		return src
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return src
		}
		return ""
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// resolveLink makes a link target absolute so the book never links to a
// part it does not contain. Fragment-only and scheme-qualified targets are
// kept; relative targets without a base are dropped ("").
func resolveLink(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "#") || hasURIScheme(href) {
		return href
	}
	if base == nil {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// resolveLinkAttrs rewrites the href of an HTML or SVG anchor with
// resolveLink, removing it when it cannot be resolved.
func resolveLinkAttrs(a *html.Node, base *url.URL) {
	out := a.Attr[:0]
	for _, attr := range a.Attr {
		if attr.Key == "href" && (attr.Namespace == "" || attr.Namespace == "xlink") {
			attr.Val = resolveLink(attr.Val, base)
			if attr.Val == "" {
				continue
			}
		}
		out = append(out, attr)
	}
	a.Attr = out
}

// properties returns the manifest properties the rendered chapter needs:
// "svg" and "mathml" when it embeds that foreign content.
func (c *content) properties() string {
	var hasSVG, hasMath bool
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Namespace {
			case "svg":
				hasSVG = true
			case "math":
				hasMath = true
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(c.body)

	var props []string
	if hasMath {
		props = append(props, "mathml")
	}
	if hasSVG {
		props = append(props, "svg")
	}
	return strings.Join(props, " ")
}

// hasVisibleContent reports whether the body has any non-whitespace text or
// at least one image.
func (c *content) hasVisibleContent() bool {
	if len(c.locators) > 0 {
		return true
	}
	return strings.TrimSpace(textContent(c.body)) != ""
}

// normalize applies the presentation rules for paragraphs, headings,
// images and outbound links.
func (c *content) normalize() {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Namespace == "" {
			switch {
			case n.DataAtom == atom.P:
				appendStyle(n, paragraphStyle)
			case headingTags[n.DataAtom]:
				appendStyle(n, headingStyle)
			case n.DataAtom == atom.Img:
				appendStyle(n, imageStyle)
				removeAttr(n, "srcset")
				removeAttr(n, "sizes")
				if !hasAttr(n, "alt") {
					setAttr(n, "alt", "")
				}
			case n.DataAtom == atom.A:
				if isOutboundLink(getAttr(n, "href")) {
					setAttr(n, "target", "_blank")
					setAttr(n, "rel", "noopener noreferrer")
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(c.body)
}

// applyImages points every image at its resolved asset. Images whose locator
// is missing from assets are removed from the tree. When inline is set, the
// image bytes are embedded as a data: URI instead of an archive path.
func (c *content) applyImages(assets map[string]ImageAsset, inline bool) {
	walkElements(c.body, atom.Img, func(img *html.Node) bool {
		asset, ok := assets[getAttr(img, "src")]
		if !ok {
			return false
		}
		if inline {
			setAttr(img, "src", dataURI(asset.MediaType, asset.Data))
		} else {
			setAttr(img, "src", asset.Href())
		}
		return true
	})
}

// paginate inserts a page-break marker after a top-level element whenever the
// running visible text length reaches threshold and another element follows.
// The counter only resets at element boundaries, so pages are approximate.
// It returns the number of markers inserted.
func (c *content) paginate(threshold int) int {
	if threshold <= 0 {
		return 0
	}
	var elems []*html.Node
	for n := c.body.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			elems = append(elems, n)
		}
	}

	breaks := 0
	running := 0
	for i, el := range elems {
		running += utf8.RuneCountInString(textContent(el))
		if running >= threshold && i < len(elems)-1 {
			c.body.InsertBefore(newPageBreak(), el.NextSibling)
			breaks++
			running = 0
		}
	}
	return breaks
}

// render serialises the body children as XHTML-compatible markup.
func (c *content) render() (string, error) {
	var buf bytes.Buffer
	for n := c.body.FirstChild; n != nil; n = n.NextSibling {
		if err := html.Render(&buf, n); err != nil {
			return "", fmt.Errorf("epub: render content: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func newPageBreak() *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: pageBreakClass},
			{Key: "style", Val: pageBreakStyle},
		},
	}
}

// walkElements calls fn for every element with the given atom in document
// order. When fn returns false the element is removed from the tree.
func walkElements(n *html.Node, a atom.Atom, fn func(*html.Node) bool) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && c.DataAtom == a {
			if !fn(c) {
				n.RemoveChild(c)
				continue
			}
		}
		walkElements(c, a, fn)
	}
}

// textContent concatenates all text nodes in the subtree rooted at n.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// cleanNode recursively removes unsafe elements, comments and attributes
// from the subtree rooted at n, and strips characters XML does not allow.
// Elements whose names are not valid XML names, and HTML elements nested in
// SVG or MathML, are replaced by their children. Each SVG or MathML root gets
// its namespace declarations.
func cleanNode(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		switch c.Type {
		case html.CommentNode, html.DoctypeNode:
			n.RemoveChild(c)
			continue
		case html.TextNode:
			c.Data = stripInvalidXMLChars(c.Data)
			continue
		case html.ElementNode:
			if isDroppedElement(c) {
				n.RemoveChild(c)
				continue
			}
			if !isXMLName(c.Data) || (c.Namespace == "" && n.Namespace != "") {
				next = unwrapNode(c)
				continue
			}
			stripEventAttributes(c)
		}
		cleanNode(c)
		if c.Type == html.ElementNode && c.Namespace != "" && c.Namespace != n.Namespace {
			declareNamespaces(c)
		}
	}
}

// isDroppedElement reports whether n is removed together with its subtree.
func isDroppedElement(n *html.Node) bool {
	switch n.Namespace {
	case "":
		return removedTags[n.DataAtom] || mediaTags[n.DataAtom]
	case "svg":
		return removedTags[n.DataAtom] || n.Data == "foreignObject" || isExternalSVGResource(n)
	case "math":
		return n.Data == "annotation-xml"
	}
	return true
}

// declareNamespaces writes the default namespace of the foreign root n and,
// when its subtree uses xlink attributes, the xlink prefix.
func declareNamespaces(n *html.Node) {
	ns := svgNamespace
	if n.Namespace == "math" {
		ns = mathNamespace
	}
	attrs := []html.Attribute{{Key: xmlnsAttrPrefix, Val: ns}}
	if usesXLink(n) {
		attrs = append(attrs, html.Attribute{Namespace: xmlnsAttrPrefix, Key: "xlink", Val: xlinkNamespace})
	}
	n.Attr = append(attrs, n.Attr...)
}

func usesXLink(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Namespace == "xlink" {
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && usesXLink(c) {
			return true
		}
	}
	return false
}

// isExternalSVGResource reports whether the SVG element n loads a resource
// from outside the document (<image>, <use>, <feImage> and the like). Anchors,
// fragment references and embedded data:image URIs stay.
func isExternalSVGResource(n *html.Node) bool {
	if n.Namespace != "svg" || n.Data == "a" {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "href" || (a.Namespace != "" && a.Namespace != "xlink") {
			continue
		}
		v := strings.TrimSpace(a.Val)
		if v != "" && !strings.HasPrefix(v, "#") && !isImageDataURI(v) {
			return true
		}
	}
	return false
}

// unwrapNode replaces n with its children and returns the first node that
// took its place (or n's former next sibling when it had no children).
func unwrapNode(n *html.Node) *html.Node {
	parent := n.Parent
	first := n.FirstChild
	if first == nil {
		first = n.NextSibling
	}
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
	return first
}

// stripEventAttributes removes event handler attributes (on*), unsafe URIs,
// and attributes that would make the rendered XHTML ill-formed.
func stripEventAttributes(n *html.Node) {
	cleaned := n.Attr[:0]
	for _, attr := range n.Attr {
		keyLower := strings.ToLower(attr.Key)
		if strings.HasPrefix(keyLower, "on") {
			continue
		}
		if isURIAttribute(attr) && !isSafeURI(attr.Val) {
			continue
		}
		if attr.Namespace == xmlnsAttrPrefix || attr.Key == xmlnsAttrPrefix {
			continue
		}
		if n.Namespace == "" && n.DataAtom != atom.Img && attr.Namespace == "" && resourceAttrs[keyLower] {
			continue
		}
		if attr.Namespace == "" && !isPlainAttrName(attr.Key) {
			continue
		}
		attr.Val = stripInvalidXMLChars(attr.Val)
		cleaned = append(cleaned, attr)
	}
	n.Attr = cleaned
}

// isPlainAttrName reports whether key can be written as an un-namespaced XML
// attribute. Prefixed names other than xml:* would need a namespace
// declaration.
func isPlainAttrName(key string) bool {
	if key == "xml:lang" || key == "xml:space" {
		return true
	}
	return !strings.Contains(key, ":") && isXMLName(key)
}

// isXMLName reports whether s is a conservative ASCII XML name without colons.
func isXMLName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// stripInvalidXMLChars drops invalid UTF-8 bytes and runes outside the
// XML 1.0 Char production. A literal U+FFFD is kept.
func stripInvalidXMLChars(s string) string {
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isXMLChar(r, size) {
			break
		}
		i += size
	}
	if i == len(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:i])
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if isXMLChar(r, size) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// isXMLChar reports whether the rune r, decoded from size bytes, may appear
// in an XML document. RuneError with size 1 marks an invalid byte.
func isXMLChar(r rune, size int) bool {
	if r == utf8.RuneError && size == 1 {
		return false
	}
	return r == 0x9 || r == 0xA || r == 0xD ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// isURIAttribute reports whether attr is an HTML attribute that may contain
// a URL and should be protocol-sanitized.
func isURIAttribute(attr html.Attribute) bool {
	if attr.Key == "href" || attr.Key == "src" {
		return true
	}
	if attr.Namespace == "xlink" && attr.Key == "href" {
		return true
	}
	return attr.Key == "xlink:href"
}

// isSafeURI validates URI values for href/src-like attributes.
// Allowed values:
//   - relative paths and fragments
//   - schemes: http, https, mailto
//   - data:image/*
func isSafeURI(raw string) bool {
	v := strings.TrimSpace(raw)
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, "#") || strings.HasPrefix(v, "/") || strings.HasPrefix(v, "./") || strings.HasPrefix(v, "../") || strings.HasPrefix(v, "?") {
		return true
	}

	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return true
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https", "mailto":
		return true
	case "data":
		return isImageDataURI(v)
	default:
		return false
	}
}

// isOutboundLink reports whether href points to an external http(s) resource.
func isOutboundLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

func isImageDataURI(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "data:image/")
}

func dataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// appendStyle appends CSS declarations to n's style attribute.
func appendStyle(n *html.Node, decls string) {
	existing := strings.TrimSpace(getAttr(n, "style"))
	if existing == "" {
		setAttr(n, "style", decls)
		return
	}
	if !strings.HasSuffix(existing, ";") {
		existing += ";"
	}
	setAttr(n, "style", existing+" "+decls)
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
