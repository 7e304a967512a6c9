package epub

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"
)

// Fetcher acquires the bytes of one image.
//
// Implementations must be safe for concurrent use. Any returned error marks
// the image as dropped; it does not abort generation.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (FetchedImage, error)
}

// FetchedImage is the result of a successful fetch.
type FetchedImage struct {
	// MediaType is the MIME type reported for the image. It may be empty,
	// in which case the resolver sniffs Data.
	MediaType string

	// Data is the raw image bytes.
	Data []byte
}

// HTTPFetcher fetches images over HTTP(S) and decodes data: URIs locally.
type HTTPFetcher struct {
	// Client is used for requests. A nil Client uses a client with a 30s timeout.
	Client *http.Client

	// Limiter throttles outgoing requests. Nil means unlimited.
	Limiter *rate.Limiter

	// MaxSize caps the number of bytes read from a single response.
	// Zero means DefaultOptions().MaxImageSize.
	MaxSize int64

	// UserAgent, when set, is sent with every request.
	UserAgent string
}

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// NewHTTPFetcher returns an HTTPFetcher limited to ratePerSecond requests per
// second (0 = unlimited) and maxSize bytes per image.
func NewHTTPFetcher(client *http.Client, ratePerSecond float64, maxSize int64) *HTTPFetcher {
	f := &HTTPFetcher{Client: client, MaxSize: maxSize}
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		f.Limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (FetchedImage, error) {
	if isImageDataURI(locator) {
		return decodeDataURI(locator)
	}

	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return FetchedImage{}, fmt.Errorf("epub: wait for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return FetchedImage{}, fmt.Errorf("epub: build request for %s: %w", locator, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = defaultHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return FetchedImage{}, fmt.Errorf("epub: fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FetchedImage{}, fmt.Errorf("epub: fetch %s: unexpected status %s", locator, resp.Status)
	}

	limit := f.MaxSize
	if limit <= 0 {
		limit = DefaultOptions().MaxImageSize
	}
	// Read up to limit+1 to detect an oversized body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return FetchedImage{}, fmt.Errorf("epub: read %s: %w", locator, err)
	}
	if int64(len(data)) > limit {
		return FetchedImage{}, fmt.Errorf("epub: image %s exceeds %d bytes", locator, limit)
	}

	return FetchedImage{
		MediaType: resp.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

// decodeDataURI decodes a data:image/...;base64, URI. Non-base64 payloads are
// percent-decoded.
func decodeDataURI(s string) (FetchedImage, error) {
	s = strings.TrimSpace(s)
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return FetchedImage{}, fmt.Errorf("epub: malformed data URI")
	}
	header, payload := s[len("data:"):comma], s[comma+1:]

	isBase64 := false
	params := strings.Split(header, ";")
	mediaType := strings.TrimSpace(params[0])
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		payload = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return FetchedImage{}, fmt.Errorf("epub: decode data URI: %w", err)
			}
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return FetchedImage{}, fmt.Errorf("epub: decode data URI: %w", err)
		}
		data = []byte(unescaped)
	}
	return FetchedImage{MediaType: mediaType, Data: data}, nil
}

// imageMediaType returns the image MIME type for a fetched image. The
// reported type wins when it is image/*; otherwise the bytes are sniffed.
// An empty result means the data is not an image.
func imageMediaType(reported string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(reported); err == nil {
		mt = strings.ToLower(mt)
		if strings.HasPrefix(mt, "image/") {
			return canonicalImageType(mt)
		}
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			mt, _, err := mime.ParseMediaType(m.String())
			if err != nil {
				return ""
			}
			return mt
		}
	}
	return ""
}

// canonicalImageType folds legacy aliases onto the ePub core media types.
func canonicalImageType(mt string) string {
	switch mt {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-png":
		return "image/png"
	}
	return mt
}

// extensionForMediaType maps an image MIME type to the file extension used
// inside the archive.
func extensionForMediaType(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	case "image/avif":
		return "avif"
	case "image/bmp", "image/x-ms-bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	case "image/x-icon", "image/vnd.microsoft.icon":
		return "ico"
	}
	if m := mimetype.Lookup(mediaType); m != nil {
		if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
			return ext
		}
	}
	return "img"
}
