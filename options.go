package epub

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Size limits for generated archives.
const (
	// DefaultMaxFileSize is the archive size limit used when Options.MaxFileSize is zero.
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// MaxAllowedFileSize is the largest MaxFileSize a caller may configure.
	MaxAllowedFileSize int64 = 50 * 1024 * 1024
)

// Options configures a Generator. Zero-valued fields take their defaults;
// see DefaultOptions.
type Options struct {
	// MaxFileSize is the maximum size in bytes of the finished archive.
	MaxFileSize int64

	// DefaultFont is the primary font family written to the stylesheet.
	DefaultFont string

	// Language is the BCP 47 tag declared in the package metadata.
	Language string

	// PaginationThreshold is the number of visible characters after which a
	// page-break marker is inserted. A negative value disables pagination.
	PaginationThreshold int

	// Creator is the dc:creator label.
	Creator string

	// DefaultTitle replaces a blank article title.
	DefaultTitle string

	// FetchConcurrency bounds the number of concurrent image fetches.
	FetchConcurrency int

	// FetchRate limits image fetches to this many requests per second.
	// Zero means unlimited.
	FetchRate float64

	// MaxImageSize is the maximum size in bytes of a single image.
	MaxImageSize int64

	// InlineImages embeds images as data: URIs in the content document
	// instead of separate archive entries.
	InlineImages bool
}

// DefaultOptions returns the options used when NewGenerator receives a zero Options.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:         DefaultMaxFileSize,
		DefaultFont:         "Arial",
		Language:            "zh",
		PaginationThreshold: 2000,
		Creator:             "Web to EPUB",
		DefaultTitle:        "未命名文档",
		FetchConcurrency:    4,
		MaxImageSize:        10 * 1024 * 1024,
	}
}

// withDefaults fills zero fields from DefaultOptions and validates the result.
func (o Options) withDefaults() (Options, error) {
	def := DefaultOptions()
	if o.MaxFileSize == 0 {
		o.MaxFileSize = def.MaxFileSize
	}
	if strings.TrimSpace(o.DefaultFont) == "" {
		o.DefaultFont = def.DefaultFont
	}
	if strings.TrimSpace(o.Language) == "" {
		o.Language = def.Language
	}
	if o.PaginationThreshold == 0 {
		o.PaginationThreshold = def.PaginationThreshold
	}
	if strings.TrimSpace(o.Creator) == "" {
		o.Creator = def.Creator
	}
	if strings.TrimSpace(o.DefaultTitle) == "" {
		o.DefaultTitle = def.DefaultTitle
	}
	if o.FetchConcurrency == 0 {
		o.FetchConcurrency = def.FetchConcurrency
	}
	if o.MaxImageSize == 0 {
		o.MaxImageSize = def.MaxImageSize
	}

	if o.MaxFileSize < 0 || o.MaxFileSize > MaxAllowedFileSize {
		return o, fmt.Errorf("epub: max file size %d out of range (1..%d): %w", o.MaxFileSize, MaxAllowedFileSize, ErrInvalidOptions)
	}
	if o.FetchConcurrency < 0 {
		return o, fmt.Errorf("epub: fetch concurrency %d must be positive: %w", o.FetchConcurrency, ErrInvalidOptions)
	}
	if o.FetchRate < 0 {
		return o, fmt.Errorf("epub: fetch rate %v must not be negative: %w", o.FetchRate, ErrInvalidOptions)
	}
	if o.MaxImageSize < 0 {
		return o, fmt.Errorf("epub: max image size %d must be positive: %w", o.MaxImageSize, ErrInvalidOptions)
	}
	if strings.ContainsAny(o.DefaultFont, "{};") {
		return o, fmt.Errorf("epub: font %q contains CSS delimiters: %w", o.DefaultFont, ErrInvalidOptions)
	}

	tag, err := language.Parse(strings.TrimSpace(o.Language))
	if err != nil {
		return o, fmt.Errorf("epub: language %q: %v: %w", o.Language, err, ErrInvalidOptions)
	}
	o.Language = tag.String()

	return o, nil
}
