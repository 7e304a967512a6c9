package epub

import "errors"

// Sentinel errors returned by the epub package.
var (
	// ErrImageFetchFailed indicates a single image could not be acquired
	// (network failure, non-success status, empty or non-image body).
	// It never escapes Generate: the image is dropped and generation continues.
	ErrImageFetchFailed = errors.New("epub: image fetch failed")

	// ErrEmptyContent indicates the article has no body to package.
	ErrEmptyContent = errors.New("epub: empty content")

	// ErrFileTooLarge indicates the assembled archive exceeds the
	// configured MaxFileSize. The archive is discarded.
	ErrFileTooLarge = errors.New("epub: file too large")

	// ErrRender indicates an internal invariant was violated while building
	// the package (e.g., a duplicate manifest id). It signals a defect
	// rather than bad input.
	ErrRender = errors.New("epub: render error")

	// ErrInvalidOptions indicates the Options passed to NewGenerator
	// are out of range.
	ErrInvalidOptions = errors.New("epub: invalid options")
)
