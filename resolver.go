package epub

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// imagesDir is the directory, relative to the package document, holding
// embedded images.
const imagesDir = "images"

// droppedImage records an image that could not be acquired.
type droppedImage struct {
	Locator string
	Err     error
}

// imageSet is the outcome of resolving the images of one article.
type imageSet struct {
	// assets holds resolved images in id order (image0, image1, ...).
	assets []ImageAsset

	// byLocator maps each resolved locator to its asset.
	byLocator map[string]ImageAsset

	dropped []droppedImage
}

// cover returns the first resolved asset, if any.
func (s *imageSet) cover() (ImageAsset, bool) {
	if len(s.assets) == 0 {
		return ImageAsset{}, false
	}
	return s.assets[0], true
}

// resolver acquires and deduplicates the images of a single generation.
// It is created per call and never shared.
type resolver struct {
	fetcher     Fetcher
	concurrency int
	logger      *slog.Logger
}

// resolveImages fetches every locator once, with at most r.concurrency fetches
// in flight. Internal ids are assigned afterwards in locator order, skipping
// failures, so the result does not depend on completion order.
//
// Individual failures are recorded in the returned set and never returned as
// errors. The only error is a cancelled or expired ctx.
func (r *resolver) resolveImages(ctx context.Context, locators []string) (*imageSet, error) {
	type outcome struct {
		img FetchedImage
		mt  string
		err error
	}

	// Callers normally pass distinct locators.
	unique := make([]string, 0, len(locators))
	seen := make(map[string]bool, len(locators))
	for _, loc := range locators {
		if !seen[loc] {
			seen[loc] = true
			unique = append(unique, loc)
		}
	}

	results := make([]outcome, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for i, loc := range unique {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i].err = gctx.Err()
				return nil
			}
			img, err := r.fetcher.Fetch(gctx, loc)
			if err != nil {
				results[i].err = fmt.Errorf("%w: %v", ErrImageFetchFailed, err)
				return nil
			}
			if len(img.Data) == 0 {
				results[i].err = fmt.Errorf("%w: empty body", ErrImageFetchFailed)
				return nil
			}
			mt := imageMediaType(img.MediaType, img.Data)
			if mt == "" {
				results[i].err = fmt.Errorf("%w: not an image (%q)", ErrImageFetchFailed, img.MediaType)
				return nil
			}
			results[i] = outcome{img: img, mt: mt}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("epub: resolve images: %w", err)
	}

	set := &imageSet{byLocator: make(map[string]ImageAsset, len(unique))}
	for i, loc := range unique {
		res := results[i]
		if res.err != nil {
			set.dropped = append(set.dropped, droppedImage{Locator: loc, Err: res.err})
			r.logger.Warn("epub: image dropped", "locator", truncateLocator(loc), "error", res.err)
			continue
		}
		asset := ImageAsset{
			SourceLocator: loc,
			MediaType:     res.mt,
			Data:          res.img.Data,
			InternalID:    "image" + strconv.Itoa(len(set.assets)),
		}
		set.assets = append(set.assets, asset)
		set.byLocator[loc] = asset
		r.logger.Debug("epub: image resolved", "id", asset.InternalID, "media_type", asset.MediaType, "bytes", len(asset.Data))
	}
	return set, nil
}

// truncateLocator shortens data: URIs for log output.
func truncateLocator(loc string) string {
	const limit = 96
	if len(loc) <= limit {
		return loc
	}
	return loc[:limit] + "..."
}
