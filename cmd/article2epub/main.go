// Command article2epub packages an extracted article into an ePub file.
//
// Usage:
//
//	article2epub -in article.html -title "Field notes" -base-url https://example.com/post
//
// The article body is read from -in, or from stdin when -in is empty or "-".
// Options come from an optional YAML file (-config); flags given on the
// command line override it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	epub "github.com/simp-lee/article2epub"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stderr); err != nil {
		stop()
		fatalf("%v", err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer) error {
	fs := flag.NewFlagSet("article2epub", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inPath := fs.String("in", "", "article HTML file (default: stdin)")
	outPath := fs.String("out", "", "output ePub path (default: <title>.epub)")
	title := fs.String("title", "", "article title")
	baseURL := fs.String("base-url", "", "URL the article was extracted from; relative image sources resolve against it")
	configPath := fs.String("config", "", "optional YAML options file")
	lang := fs.String("lang", "", "BCP 47 language tag")
	font := fs.String("font", "", "default font family")
	creator := fs.String("creator", "", "dc:creator label")
	maxSize := fs.String("max-size", "", "archive size limit, e.g. 10MiB")
	maxImageSize := fs.String("max-image-size", "", "per-image size limit, e.g. 5MiB")
	pageChars := fs.Int("page-chars", 0, "visible characters between page breaks (negative disables)")
	inline := fs.Bool("inline", false, "embed images as data: URIs")
	concurrency := fs.Int("concurrency", 0, "concurrent image fetches")
	rps := fs.Float64("rate", 0, "image fetches per second (0 = unlimited)")
	userAgent := fs.String("user-agent", "", "User-Agent header for image requests")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall generation timeout")
	verbose := fs.Bool("v", false, "log debug events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	opts := cfg.Options

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["lang"] {
		opts.Language = *lang
	}
	if set["font"] {
		opts.DefaultFont = *font
	}
	if set["creator"] {
		opts.Creator = *creator
	}
	if set["max-size"] {
		if opts.MaxFileSize, err = parseSize(*maxSize); err != nil {
			return fmt.Errorf("-max-size: %w", err)
		}
	}
	if set["max-image-size"] {
		if opts.MaxImageSize, err = parseSize(*maxImageSize); err != nil {
			return fmt.Errorf("-max-image-size: %w", err)
		}
	}
	if set["page-chars"] {
		opts.PaginationThreshold = *pageChars
	}
	if set["inline"] {
		opts.InlineImages = *inline
	}
	if set["concurrency"] {
		opts.FetchConcurrency = *concurrency
	}
	if set["rate"] {
		opts.FetchRate = *rps
	}
	ua := cfg.UserAgent
	if set["user-agent"] {
		ua = strings.TrimSpace(*userAgent)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	g, err := newGenerator(opts, ua, logger)
	if err != nil {
		return err
	}

	body, err := readArticle(*inPath, stdin)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	blob, err := g.GenerateArticle(ctx, epub.Article{
		Title:   *title,
		Body:    body,
		BaseURL: strings.TrimSpace(*baseURL),
	})
	if err != nil {
		return err
	}

	dst := strings.TrimSpace(*outPath)
	if dst == "" {
		name := *title
		if strings.TrimSpace(name) == "" {
			name = g.Options().DefaultTitle
		}
		dst = epub.Filename(name)
	}
	if err := os.WriteFile(filepath.Clean(dst), blob, 0o644); err != nil {
		return fmt.Errorf("write epub: %w", err)
	}
	logger.Info("wrote epub", "path", dst, "size", humanize.IBytes(uint64(len(blob))))
	return nil
}

// newGenerator builds the generator, replacing the default fetcher when a
// User-Agent is configured.
func newGenerator(opts epub.Options, userAgent string, logger *slog.Logger) (*epub.Generator, error) {
	g, err := epub.NewGenerator(opts, epub.WithLogger(logger))
	if err != nil || userAgent == "" {
		return g, err
	}
	eff := g.Options()
	f := epub.NewHTTPFetcher(nil, eff.FetchRate, eff.MaxImageSize)
	f.UserAgent = userAgent
	return epub.NewGenerator(eff, epub.WithLogger(logger), epub.WithFetcher(f))
}

func readArticle(path string, stdin io.Reader) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read article: %w", err)
	}
	return string(data), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[article2epub] "+format+"\n", args...)
	os.Exit(1)
}
