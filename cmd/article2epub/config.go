package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	epub "github.com/simp-lee/article2epub"
)

// fileConfig is the YAML form of epub.Options. Sizes accept humanized
// values such as "10 MiB" or "512kB".
type fileConfig struct {
	MaxFileSize         string  `yaml:"max_file_size"`
	DefaultFont         string  `yaml:"default_font"`
	Language            string  `yaml:"language"`
	PaginationThreshold int     `yaml:"pagination_threshold"`
	Creator             string  `yaml:"creator"`
	DefaultTitle        string  `yaml:"default_title"`
	FetchConcurrency    int     `yaml:"fetch_concurrency"`
	FetchRate           float64 `yaml:"fetch_rate"`
	MaxImageSize        string  `yaml:"max_image_size"`
	InlineImages        bool    `yaml:"inline_images"`
	UserAgent           string  `yaml:"user_agent"`
}

type cliConfig struct {
	Options   epub.Options
	UserAgent string
}

func loadConfig(path string) (cliConfig, error) {
	var cfg cliConfig
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return cfg, nil
	}
	cleanPath = filepath.Clean(cleanPath)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	opts := epub.Options{
		DefaultFont:         strings.TrimSpace(fc.DefaultFont),
		Language:            strings.TrimSpace(fc.Language),
		PaginationThreshold: fc.PaginationThreshold,
		Creator:             strings.TrimSpace(fc.Creator),
		DefaultTitle:        strings.TrimSpace(fc.DefaultTitle),
		FetchConcurrency:    fc.FetchConcurrency,
		FetchRate:           fc.FetchRate,
		InlineImages:        fc.InlineImages,
	}
	if opts.MaxFileSize, err = parseSize(fc.MaxFileSize); err != nil {
		return cfg, fmt.Errorf("max_file_size: %w", err)
	}
	if opts.MaxImageSize, err = parseSize(fc.MaxImageSize); err != nil {
		return cfg, fmt.Errorf("max_image_size: %w", err)
	}

	cfg.Options = opts
	cfg.UserAgent = strings.TrimSpace(fc.UserAgent)
	return cfg, nil
}

// parseSize returns 0 for an empty value so the library default applies.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > uint64(epub.MaxAllowedFileSize) {
		return 0, fmt.Errorf("size %s exceeds %s", s, humanize.IBytes(uint64(epub.MaxAllowedFileSize)))
	}
	return int64(n), nil
}
