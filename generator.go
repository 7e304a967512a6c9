package epub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Generator packages articles into ePub 3 files.
//
// A Generator holds configuration only. Generate may be called concurrently;
// every call owns its own resolver cache, id counter and intermediate parts.
type Generator struct {
	opts    Options
	fetcher Fetcher
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

// GeneratorOption customises a Generator.
type GeneratorOption func(*Generator)

// WithFetcher sets the image fetcher. The default is an HTTPFetcher built
// from the Options.
func WithFetcher(f Fetcher) GeneratorOption {
	return func(g *Generator) { g.fetcher = f }
}

// WithHTTPClient sets the client used by the default HTTPFetcher.
// It has no effect when WithFetcher is also given.
func WithHTTPClient(c *http.Client) GeneratorOption {
	return func(g *Generator) {
		if hf, ok := g.fetcher.(*HTTPFetcher); ok {
			hf.Client = c
		}
	}
}

// WithLogger sets the structured logger for generation events.
// A nil logger discards events.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// WithIDGenerator sets the function producing the book identifier.
// The default returns a random UUID.
func WithIDGenerator(fn func() string) GeneratorOption {
	return func(g *Generator) { g.newID = fn }
}

// WithClock sets the function returning the package creation time.
func WithClock(fn func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = fn }
}

// NewGenerator returns a Generator for opts. Zero fields take the values
// from DefaultOptions. An error wrapping ErrInvalidOptions is returned when
// opts are out of range.
func NewGenerator(opts Options, setters ...GeneratorOption) (*Generator, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	g := &Generator{
		opts:    opts,
		fetcher: NewHTTPFetcher(nil, opts.FetchRate, opts.MaxImageSize),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, set := range setters {
		set(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return g, nil
}

// Options returns the effective options, with defaults applied.
func (g *Generator) Options() Options {
	return g.opts
}

// Generate packages title and the HTML content into an ePub blob.
// See GenerateArticle.
func (g *Generator) Generate(ctx context.Context, title, content string) ([]byte, error) {
	return g.GenerateArticle(ctx, Article{Title: title, Body: content})
}

// GenerateArticle packages a into an ePub blob.
//
// Images that cannot be fetched are dropped from the book. The returned
// errors wrap ErrEmptyContent, ErrFileTooLarge, ErrRender, or ctx.Err()
// when ctx is cancelled while images are being fetched. No blob is returned
// with an error.
func (g *Generator) GenerateArticle(ctx context.Context, a Article) ([]byte, error) {
	if strings.TrimSpace(a.Body) == "" {
		return nil, fmt.Errorf("epub: article body is blank: %w", ErrEmptyContent)
	}
	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = g.opts.DefaultTitle
	}
	log := g.logger.With("title", title)
	log.Info("epub: generation started")

	doc, err := parseContent(a.Body, a.BaseURL)
	if err != nil {
		return nil, err
	}
	if !doc.hasVisibleContent() {
		return nil, fmt.Errorf("epub: article body has no text or images: %w", ErrEmptyContent)
	}

	r := &resolver{fetcher: g.fetcher, concurrency: g.opts.FetchConcurrency, logger: log}
	images, err := r.resolveImages(ctx, doc.locators)
	if err != nil {
		log.Error("epub: generation aborted", "error", err)
		return nil, err
	}
	log.Debug("epub: images resolved", "resolved", len(images.assets), "dropped", len(images.dropped))

	doc.applyImages(images.byLocator, g.opts.InlineImages)
	doc.normalize()
	breaks := doc.paginate(g.opts.PaginationThreshold)
	body, err := doc.render()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	log.Debug("epub: content sanitized", "page_breaks", breaks)

	manifest, spine, err := buildManifest(images.assets, g.opts.InlineImages, doc.properties())
	if err != nil {
		return nil, err
	}
	pkg := &Package{
		Identifier: g.newID(),
		Title:      title,
		Language:   g.opts.Language,
		Creator:    g.opts.Creator,
		CreatedAt:  g.now().UTC().Truncate(time.Second),
		Manifest:   manifest,
		Spine:      spine,
	}
	if cover, ok := images.cover(); ok && !g.opts.InlineImages {
		pkg.CoverID = cover.InternalID
	}

	blob, err := g.assemble(pkg, body, images.assets)
	if err != nil {
		log.Error("epub: generation failed", "error", err)
		return nil, err
	}
	log.Info("epub: generation finished", "size", humanize.IBytes(uint64(len(blob))), "images", len(images.assets))
	return blob, nil
}

// assemble renders every part and writes the archive in the fixed layout,
// then enforces the size limit and verifies the result.
func (g *Generator) assemble(pkg *Package, body string, images []ImageAsset) ([]byte, error) {
	ar, err := newArchive(pkg.CreatedAt)
	if err != nil {
		return nil, err
	}

	parts := []struct {
		name string
		data []byte
	}{
		{containerPath, renderContainer()},
		{opfPath, renderPackageDocument(pkg)},
		{path.Join(packageRoot, navHref), renderNav(pkg)},
		{path.Join(packageRoot, chapterHref), renderChapter(pkg, body)},
		{path.Join(packageRoot, styleHref), renderStylesheet(g.opts.DefaultFont)},
	}
	for _, p := range parts {
		if err := ar.add(p.name, p.data); err != nil {
			return nil, err
		}
	}
	if !g.opts.InlineImages {
		for _, img := range images {
			if err := ar.add(path.Join(packageRoot, img.Href()), img.Data); err != nil {
				return nil, err
			}
		}
	}

	blob, err := ar.finish(g.opts.MaxFileSize)
	if err != nil {
		return nil, err
	}
	if err := Verify(blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// Filename returns a file name for the book, replacing characters that are
// not allowed in file names on common platforms.
func Filename(title string) string {
	name := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, title))
	if name == "" {
		name = "untitled"
	}
	return name + ".epub"
}
