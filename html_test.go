package epub

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
)

// mustParse parses markup and fails the test on error.
func mustParse(t *testing.T, markup, baseURL string) *content {
	t.Helper()
	c, err := parseContent(markup, baseURL)
	if err != nil {
		t.Fatalf("parseContent() error = %v", err)
	}
	return c
}

// mustRender renders c and fails the test on error.
func mustRender(t *testing.T, c *content) string {
	t.Helper()
	got, err := c.render()
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}
	return got
}

// ---------------------------------------------------------------------------
// parseContent tests
// ---------------------------------------------------------------------------

func TestParseContent_RemovesUnsafeMarkup(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"script", `<p>Hi<script>alert(1)</script></p>`, `<p>Hi</p>`},
		{"style", `<style>p{color:red}</style><p>Hi</p>`, `<p>Hi</p>`},
		{"iframe", `<p>a</p><iframe src="https://x"></iframe>`, `<p>a</p>`},
		{"event handler", `<p onclick="steal()">a</p>`, `<p>a</p>`},
		{"javascript link", `<a href="javascript:alert(1)">x</a>`, `<a>x</a>`},
		{"comment", `<p>a<!-- hidden -->b</p>`, `<p>ab</p>`},
		{"control characters", "<p>a\x01b\x0bc</p>", `<p>abc</p>`},
		{"prefixed element unwrapped", `<o:p>text</o:p>`, `text`},
		{"prefixed attribute", `<p x:y="1" class="k">a</p>`, `<p class="k">a</p>`},
		{"xmlns attribute", `<p xmlns="urn:x">a</p>`, `<p>a</p>`},
		{"picture source", `<picture><source srcset="a.webp"/>t</picture>`, `<picture>t</picture>`},
		{"video", `<p>a</p><video src="http://example.com/v.mp4" poster="p.jpg">fallback</video>`, `<p>a</p>`},
		{"audio with sources", `<audio><source src="https://example.com/a.mp3"/><track src="t.vtt"/></audio><p>b</p>`, `<p>b</p>`},
		{"image input", `<input type="image" src="https://example.com/b.png"/>`, `<input type="image"/>`},
		{"background attribute", `<table background="https://example.com/bg.png"><tr><td>c</td></tr></table>`, `<table><tbody><tr><td>c</td></tr></tbody></table>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRender(t, mustParse(t, tt.input, ""))
			if got != tt.want {
				t.Errorf("render():\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestParseContent_ImageLocators(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		baseURL string
		want    []string
	}{
		{
			name:  "absolute kept verbatim",
			input: `<img src="https://cdn.example.com/a.png?x=1&amp;y=2">`,
			want:  []string{"https://cdn.example.com/a.png?x=1&y=2"},
		},
		{
			name:    "relative resolved",
			input:   `<img src="../img/a.png">`,
			baseURL: "https://example.com/posts/1",
			want:    []string{"https://example.com/img/a.png"},
		},
		{
			name:  "relative without base dropped",
			input: `<p>t</p><img src="img/a.png">`,
			want:  nil,
		},
		{
			name:  "data URI kept",
			input: `<img src="data:image/png;base64,iVBORw0KGgo=">`,
			want:  []string{"data:image/png;base64,iVBORw0KGgo="},
		},
		{
			name:  "duplicates collapse in first-encounter order",
			input: `<img src="https://a/2.png"><img src="https://a/1.png"><img src="https://a/2.png">`,
			want:  []string{"https://a/2.png", "https://a/1.png"},
		},
		{
			name:  "missing src dropped",
			input: `<p>t</p><img alt="x">`,
			want:  nil,
		},
		{
			name:  "unsupported scheme dropped",
			input: `<p>t</p><img src="ftp://example.com/a.png">`,
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustParse(t, tt.input, tt.baseURL)
			if !slices.Equal(c.locators, tt.want) {
				t.Errorf("locators = %q, want %q", c.locators, tt.want)
			}
			out := mustRender(t, c)
			if got := strings.Count(out, "<img"); got != len(imgSrcs(out)) {
				t.Errorf("rendered %d <img> tags with %d src attributes", got, len(imgSrcs(out)))
			}
		})
	}
}

// imgSrcs returns the src values of rendered images.
func imgSrcs(markup string) []string {
	return collectReferences([]byte(markup)).images
}

func TestParseContent_Links(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		baseURL string
		want    string
	}{
		{"fragment kept", `<a href="#sec">x</a>`, "", `<a href="#sec">x</a>`},
		{"mailto kept", `<a href="mailto:me@example.org">x</a>`, "", `<a href="mailto:me@example.org">x</a>`},
		{"absolute kept", `<a href="https://example.org/a">x</a>`, "", `<a href="https://example.org/a">x</a>`},
		{"relative resolved", `<a href="other">x</a>`, "https://example.com/blog/post", `<a href="https://example.com/blog/other">x</a>`},
		{"protocol-relative resolved", `<a href="//cdn.example.com/a">x</a>`, "https://example.com/", `<a href="https://cdn.example.com/a">x</a>`},
		{"relative without base dropped", `<a href="/about">x</a>`, "", `<a>x</a>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRender(t, mustParse(t, tt.input, tt.baseURL))
			if got != tt.want {
				t.Errorf("render():\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestParseContent_RemovesRemoteSVGImage(t *testing.T) {
	c := mustParse(t, `<svg viewBox="0 0 1 1"><image href="https://x/y.png"></image></svg>`, "")
	got := mustRender(t, c)
	if strings.Contains(got, "<image") {
		t.Errorf("remote SVG image kept: %s", got)
	}
}

func TestParseContent_ForeignContent(t *testing.T) {
	const (
		svgNS   = `xmlns="http://www.w3.org/2000/svg"`
		mathNS  = `xmlns="http://www.w3.org/1998/Math/MathML"`
		xlinkNS = `xmlns:xlink="http://www.w3.org/1999/xlink"`
	)
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "svg with xlink",
			input: `<svg viewBox="0 0 10 10"><image xlink:href="data:image/png;base64,AAAA"/></svg>`,
			want:  `<svg ` + svgNS + ` ` + xlinkNS + ` viewBox="0 0 10 10"><image xlink:href="data:image/png;base64,AAAA"></image></svg>`,
		},
		{
			name:  "svg without xlink",
			input: `<p>i <svg><path d="M0 0"/></svg></p>`,
			want:  `<p>i <svg ` + svgNS + `><path d="M0 0"></path></svg></p>`,
		},
		{
			name:  "declared namespace replaced",
			input: `<svg xmlns="urn:bad" xmlns:xlink="urn:worse"><g></g></svg>`,
			want:  `<svg ` + svgNS + `><g></g></svg>`,
		},
		{
			name:  "mathml",
			input: `<math><mi>x</mi></math>`,
			want:  `<math ` + mathNS + `><mi>x</mi></math>`,
		},
		{
			name:  "html inside mathml unwrapped",
			input: `<math><mi><b>x</b></mi></math>`,
			want:  `<math ` + mathNS + `><mi>x</mi></math>`,
		},
		{
			name:  "foreignObject removed",
			input: `<svg><foreignObject><p>x</p></foreignObject><rect/></svg>`,
			want:  `<svg ` + svgNS + `><rect></rect></svg>`,
		},
		{
			name:  "external use removed",
			input: `<svg><use href="https://example.com/s.svg#a"/><use href="#b"/></svg>`,
			want:  `<svg ` + svgNS + `><use href="#b"></use></svg>`,
		},
		{
			name:  "unresolvable svg link dropped",
			input: `<svg><a xlink:href="other.html"><text>t</text></a></svg>`,
			want:  `<svg ` + svgNS + `><a><text>t</text></a></svg>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRender(t, mustParse(t, tt.input, ""))
			if got != tt.want {
				t.Errorf("render():\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestContentProperties(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`<p>plain</p>`, ""},
		{`<svg><rect/></svg>`, "svg"},
		{`<math><mi>x</mi></math>`, "mathml"},
		{`<svg><rect/></svg><math><mn>1</mn></math>`, "mathml svg"},
		{`<svg><foreignObject><p>x</p></foreignObject></svg>`, "svg"},
	}
	for _, tt := range tests {
		if got := mustParse(t, tt.input, "").properties(); got != tt.want {
			t.Errorf("properties(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHasVisibleContent(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{`<p>Hello</p>`, true},
		{`<p>   </p><div>&#9;</div>`, false},
		{`<script>alert(1)</script>`, false},
		{`<img src="https://example.com/a.png">`, true},
		{`<img src="relative.png">`, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := mustParse(t, tt.input, "").hasVisibleContent(); got != tt.want {
				t.Errorf("hasVisibleContent(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// normalize / applyImages / paginate tests
// ---------------------------------------------------------------------------

func TestNormalize(t *testing.T) {
	c := mustParse(t, `<p>t</p><p style="color: red">r</p><h2>h</h2>`+
		`<img src="https://example.com/a.png" srcset="a2.png 2x" sizes="50vw">`+
		`<a href="https://example.org">out</a><a href="#f">in</a>`, "")
	c.normalize()
	got := mustRender(t, c)

	for _, want := range []string{
		`<p style="margin: 1em 0; text-indent: 2em">t</p>`,
		`<p style="color: red; margin: 1em 0; text-indent: 2em">r</p>`,
		`<h2 style="margin: 1.5em 0 0.5em 0; page-break-after: avoid">h</h2>`,
		`style="max-width: 100%; height: auto; display: block; margin: 1em auto"`,
		`alt=""`,
		`<a href="https://example.org" target="_blank" rel="noopener noreferrer">out</a>`,
		`<a href="#f">in</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("normalize() output missing %s\n got: %s", want, got)
		}
	}
	for _, unwanted := range []string{"srcset", "sizes"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("normalize() kept %s: %s", unwanted, got)
		}
	}
}

func TestNormalize_KeepsExistingAlt(t *testing.T) {
	c := mustParse(t, `<img src="https://example.com/a.png" alt="Chart">`, "")
	c.normalize()
	got := mustRender(t, c)
	if !strings.Contains(got, `alt="Chart"`) || strings.Contains(got, `alt=""`) {
		t.Errorf("alt not preserved: %s", got)
	}
}

func TestApplyImages(t *testing.T) {
	const (
		ok     = "https://example.com/ok.png"
		failed = "https://example.com/missing.png"
	)
	assets := map[string]ImageAsset{
		ok: {SourceLocator: ok, MediaType: "image/png", Data: pngBytes, InternalID: "image0"},
	}

	t.Run("archive paths", func(t *testing.T) {
		c := mustParse(t, `<p>a</p><img src="`+ok+`"><img src="`+failed+`"><img src="`+ok+`">`, "")
		c.applyImages(assets, false)
		got := imgSrcs(mustRender(t, c))
		want := []string{"images/image0.png", "images/image0.png"}
		if !slices.Equal(got, want) {
			t.Errorf("img srcs = %q, want %q", got, want)
		}
	})

	t.Run("inline", func(t *testing.T) {
		c := mustParse(t, `<img src="`+ok+`"><img src="`+failed+`">`, "")
		c.applyImages(assets, true)
		got := imgSrcs(mustRender(t, c))
		if len(got) != 1 || !strings.HasPrefix(got[0], "data:image/png;base64,") {
			t.Errorf("img srcs = %q, want one data URI", got)
		}
	})
}

func TestPaginate(t *testing.T) {
	body := strings.Repeat("<p>0123456789</p>", 4)
	tests := []struct {
		name      string
		threshold int
		want      int
	}{
		{"disabled", 0, 0},
		{"negative", -1, 0},
		{"every element but the last", 5, 3},
		{"every second element", 15, 1},
		{"never reached", 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustParse(t, body, "")
			got := c.paginate(tt.threshold)
			if got != tt.want {
				t.Errorf("paginate(%d) = %d, want %d", tt.threshold, got, tt.want)
			}
			out := mustRender(t, c)
			if n := strings.Count(out, `class="page-break"`); n != tt.want {
				t.Errorf("rendered %d markers, want %d", n, tt.want)
			}
			if strings.HasSuffix(out, `</div>`) {
				t.Errorf("marker inserted after the last element: %s", out)
			}
		})
	}
}

func TestPaginate_CountsCharactersNotBytes(t *testing.T) {
	// Each paragraph has five runes but fifteen bytes.
	c := mustParse(t, strings.Repeat("<p>汉字汉字汉</p>", 3), "")
	if got := c.paginate(10); got != 1 {
		t.Errorf("paginate(10) = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// render tests
// ---------------------------------------------------------------------------

func TestRender_XHTMLCompatible(t *testing.T) {
	input := `<p>unclosed <b>bold <i>both</b> text<br>next` +
		`<img src="data:image/png;base64,AAAA" alt=a&b><input disabled>` +
		`<p data-x='"q"'>A &amp; B &nbsp;&lt;tag&gt;` +
		`<table><tr><td>cell</table><weird:tag x:y="1">t</weird:tag>`
	got := mustRender(t, mustParse(t, input, ""))

	if !strings.Contains(got, "<br/>") {
		t.Errorf("void element not self-closed: %s", got)
	}
	if strings.Contains(got, "&nbsp;") {
		t.Errorf("HTML-only entity in output: %s", got)
	}

	dec := xml.NewDecoder(strings.NewReader(`<div xmlns="http://www.w3.org/1999/xhtml">` + got + `</div>`))
	dec.Strict = true
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("output is not well-formed XML: %v\n%s", err, got)
		}
	}
}

// ---------------------------------------------------------------------------
// helper tests
// ---------------------------------------------------------------------------

func TestIsSafeURI(t *testing.T) {
	tests := []struct {
		uri  string
		want bool
	}{
		{"", true},
		{"#top", true},
		{"../a.png", true},
		{"/abs", true},
		{"https://example.com", true},
		{"HTTP://EXAMPLE.COM", true},
		{"mailto:a@b.c", true},
		{"data:image/png;base64,AAAA", true},
		{"data:text/html,<script>", false},
		{"javascript:alert(1)", false},
		{" JavaScript:alert(1)", false},
		{"vbscript:x", false},
		{"file:///etc/passwd", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := isSafeURI(tt.uri); got != tt.want {
				t.Errorf("isSafeURI(%q) = %v, want %v", tt.uri, got, tt.want)
			}
		})
	}
}

func TestIsXMLName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"p", true},
		{"data-x", true},
		{"h1", true},
		{"_a.b", true},
		{"", false},
		{"1p", false},
		{"-p", false},
		{"o:p", false},
		{"a\"b", false},
	}
	for _, tt := range tests {
		if got := isXMLName(tt.name); got != tt.want {
			t.Errorf("isXMLName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStripInvalidXMLChars(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"tab\tnl\ncr\r", "tab\tnl\ncr\r"},
		{"a\x00b\x1fc", "abc"},
		{"bad\xffutf8", "badutf8"},
		{"汉字 \U0001F600", "汉字 \U0001F600"},
		{"a\uFFFEb", "ab"},
		{"a \uFFFD b", "a \uFFFD b"},
		{"bad\xff\uFFFD", "bad\uFFFD"},
	}
	for _, tt := range tests {
		if got := stripInvalidXMLChars(tt.in); got != tt.want {
			t.Errorf("stripInvalidXMLChars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDataURI(t *testing.T) {
	got := dataURI("image/gif", gifBytes)
	img, err := decodeDataURI(got)
	if err != nil {
		t.Fatalf("decodeDataURI(dataURI()) error = %v", err)
	}
	if img.MediaType != "image/gif" || !bytes.Equal(img.Data, gifBytes) {
		t.Errorf("decoded %q / %d bytes, want image/gif / %d bytes", img.MediaType, len(img.Data), len(gifBytes))
	}
}
