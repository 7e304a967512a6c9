package epub

import (
	"errors"
	"slices"
	"testing"
)

func testAssets() []ImageAsset {
	return []ImageAsset{
		{SourceLocator: "https://a/0.png", MediaType: "image/png", Data: pngBytes, InternalID: "image0"},
		{SourceLocator: "https://a/1.jpg", MediaType: "image/jpeg", Data: jpegBytes, InternalID: "image1"},
	}
}

func TestBuildManifest(t *testing.T) {
	manifest, spine, err := buildManifest(testAssets(), false, "")
	if err != nil {
		t.Fatalf("buildManifest() error = %v", err)
	}

	want := []ManifestEntry{
		{ID: "chapter1", Href: "chapter1.xhtml", MediaType: "application/xhtml+xml"},
		{ID: "nav", Href: "nav.xhtml", MediaType: "application/xhtml+xml", Properties: "nav"},
		{ID: "style", Href: "style.css", MediaType: "text/css"},
		{ID: "image0", Href: "images/image0.png", MediaType: "image/png", Properties: "cover-image"},
		{ID: "image1", Href: "images/image1.jpg", MediaType: "image/jpeg"},
	}
	if !slices.Equal(manifest, want) {
		t.Errorf("manifest:\n got: %+v\nwant: %+v", manifest, want)
	}
	if !slices.Equal(spine, []string{"chapter1"}) {
		t.Errorf("spine = %q, want [chapter1]", spine)
	}
}

func TestBuildManifest_NoImages(t *testing.T) {
	manifest, _, err := buildManifest(nil, false, "")
	if err != nil {
		t.Fatalf("buildManifest() error = %v", err)
	}
	if len(manifest) != 3 {
		t.Errorf("manifest has %d entries, want 3", len(manifest))
	}
	for _, e := range manifest {
		if e.Properties == "cover-image" {
			t.Errorf("%s marked as cover without images", e.ID)
		}
	}
}

func TestBuildManifest_InlineSkipsImages(t *testing.T) {
	manifest, _, err := buildManifest(testAssets(), true, "")
	if err != nil {
		t.Fatalf("buildManifest() error = %v", err)
	}
	if len(manifest) != 3 {
		t.Errorf("manifest has %d entries, want 3 in inline mode", len(manifest))
	}
}

func TestBuildManifest_ChapterProperties(t *testing.T) {
	manifest, _, err := buildManifest(nil, false, "mathml svg")
	if err != nil {
		t.Fatalf("buildManifest() error = %v", err)
	}
	if got := manifest[0]; got.ID != "chapter1" || got.Properties != "mathml svg" {
		t.Errorf("chapter entry = %+v, want properties %q", got, "mathml svg")
	}
}

func TestBuildManifest_DuplicateIDIsRenderError(t *testing.T) {
	assets := testAssets()
	assets[1].InternalID = "image0"
	_, _, err := buildManifest(assets, false, "")
	if !errors.Is(err, ErrRender) {
		t.Errorf("buildManifest() error = %v, want ErrRender", err)
	}
}

func TestCheckManifest(t *testing.T) {
	base := []ManifestEntry{
		{ID: "a", Href: "a.xhtml", MediaType: mediaTypeXHTML},
		{ID: "b", Href: "b.xhtml", MediaType: mediaTypeXHTML},
	}
	tests := []struct {
		name     string
		manifest []ManifestEntry
		spine    []string
		wantErr  bool
	}{
		{"valid", base, []string{"a", "b"}, false},
		{"unknown spine id", base, []string{"c"}, true},
		{"duplicate id", append(slices.Clone(base), ManifestEntry{ID: "a", Href: "c.xhtml"}), []string{"a"}, true},
		{"duplicate href", append(slices.Clone(base), ManifestEntry{ID: "c", Href: "a.xhtml"}), []string{"a"}, true},
		{"empty id", append(slices.Clone(base), ManifestEntry{Href: "c.xhtml"}), []string{"a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkManifest(tt.manifest, tt.spine)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRender) {
				t.Errorf("error = %v, want ErrRender", err)
			}
		})
	}
}
