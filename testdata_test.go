package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// Image fixtures. Only the signatures matter for media type sniffing.
var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\xff\xff\xff\x00\x00\x00!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00\xff\xd9")
)

// Fixed identity used for reproducible generations.
var (
	testIdentifier = "6f1c2a9e-1b7d-4c1e-9a53-0d2f7e1b8c40"
	testTime       = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
)

// fakeFetcher serves images from a map and counts calls per locator.
// Locators missing from images fail with errs[locator] or a generic error.
type fakeFetcher struct {
	images map[string]FetchedImage
	errs   map[string]error

	// delay, when set, is applied before answering a locator.
	delay func(locator string) time.Duration

	mu       sync.Mutex
	calls    map[string]int
	inFlight int
	maxSeen  int
}

func newFakeFetcher(images map[string]FetchedImage) *fakeFetcher {
	return &fakeFetcher{images: images, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (FetchedImage, error) {
	f.mu.Lock()
	f.calls[locator]++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(locator)):
		case <-ctx.Done():
			return FetchedImage{}, ctx.Err()
		}
	}
	if err, ok := f.errs[locator]; ok {
		return FetchedImage{}, err
	}
	img, ok := f.images[locator]
	if !ok {
		return FetchedImage{}, errNotFound
	}
	return img, nil
}

func (f *fakeFetcher) callCount(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

var errNotFound = errors.New("unexpected status 404 Not Found")

// discardLogger returns a logger that drops every record.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGenerator returns a Generator with a fixed clock and identifier.
func newTestGenerator(t *testing.T, opts Options, f Fetcher) *Generator {
	t.Helper()
	g, err := NewGenerator(opts,
		WithFetcher(f),
		WithLogger(discardLogger()),
		WithIDGenerator(func() string { return testIdentifier }),
		WithClock(func() time.Time { return testTime }),
	)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return g
}

// buildTestZip creates an in-memory ZIP archive from the provided files map
// (path → content) and returns a *zip.Reader over the resulting bytes.
// It calls t.Fatal on any error.
func buildTestZip(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for name, content := range files {
		fw, err := zw.Create(name)
		if err != nil {
			t.Fatalf("buildTestZip: create %s: %v", name, err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("buildTestZip: write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestZip: close writer: %v", err)
	}
	return openBlob(t, buf.Bytes())
}

// openBlob opens an in-memory archive.
func openBlob(t *testing.T, blob []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		t.Fatalf("openBlob: %v", err)
	}
	return zr
}

// zipEntry returns the entry called name, or nil.
func zipEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// readEntry returns the content of the entry called name.
func readEntry(t *testing.T, zr *zip.Reader, name string) string {
	t.Helper()
	f := zipEntry(zr, name)
	if f == nil {
		t.Fatalf("readEntry: %s not found", name)
	}
	data, err := readZipFile(f)
	if err != nil {
		t.Fatalf("readEntry: %v", err)
	}
	return string(data)
}

// archiveEntry is one entry of an archive built by writeEntries.
type archiveEntry struct {
	name  string
	data  []byte
	store bool
}

// blobEntries returns the entries of blob in archive order.
func blobEntries(t *testing.T, blob []byte) []archiveEntry {
	t.Helper()
	zr := openBlob(t, blob)
	entries := make([]archiveEntry, 0, len(zr.File))
	for _, f := range zr.File {
		data, err := readZipFile(f)
		if err != nil {
			t.Fatalf("blobEntries: %v", err)
		}
		entries = append(entries, archiveEntry{name: f.Name, data: data, store: f.Method == zip.Store})
	}
	return entries
}

// writeEntries builds an archive with entries in the given order.
func writeEntries(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.store {
			method = zip.Store
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: method})
		if err != nil {
			t.Fatalf("writeEntries: create %s: %v", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			t.Fatalf("writeEntries: write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("writeEntries: close writer: %v", err)
	}
	return buf.Bytes()
}
