package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// maxDecompressSize is the maximum allowed decompressed size for a single ZIP
// entry read back by Verify. It bounds memory use on untrusted blobs.
const maxDecompressSize int64 = 256 * 1024 * 1024

// archiveWriter builds an ePub container in memory. The mimetype entry is
// written by newArchive; every later entry is deflated.
//
// Entries are written in call order, so the caller controls the layout.
type archiveWriter struct {
	buf     bytes.Buffer
	zw      *zip.Writer
	modTime time.Time
	names   map[string]bool
}

// newArchive starts an archive whose first entry is the stored mimetype.
// Entry modification times are set to modTime.
func newArchive(modTime time.Time) (*archiveWriter, error) {
	a := &archiveWriter{modTime: modTime, names: make(map[string]bool)}
	a.zw = zip.NewWriter(&a.buf)
	if err := a.writeMimetype(); err != nil {
		return nil, err
	}
	return a, nil
}

// writeMimetype writes the mimetype entry stored, with sizes and CRC in the
// local header and no extra field, so its content starts at offset 38.
func (a *archiveWriter) writeMimetype() error {
	data := []byte(expectedMimetype)
	a.names[mimetypePath] = true
	fw, err := a.zw.CreateRaw(&zip.FileHeader{
		Name:               mimetypePath,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
	})
	if err != nil {
		return fmt.Errorf("epub: create mimetype entry: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("epub: write mimetype entry: %w", err)
	}
	return nil
}

// add writes a deflated entry.
func (a *archiveWriter) add(name string, data []byte) error {
	if !isSafePath(name) || name == "" {
		return fmt.Errorf("epub: unsafe archive path %q: %w", name, ErrRender)
	}
	if a.names[name] {
		return fmt.Errorf("epub: duplicate archive entry %q: %w", name, ErrRender)
	}
	a.names[name] = true

	hdr := &zip.FileHeader{
		Name:   name,
		Method: zip.Deflate,
	}
	if !a.modTime.IsZero() {
		hdr.Modified = a.modTime.UTC()
	}
	fw, err := a.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("epub: create archive entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("epub: write archive entry %s: %w", name, err)
	}
	return nil
}

// finish closes the archive and returns the blob. If the blob exceeds
// maxSize bytes it is discarded and ErrFileTooLarge is returned.
func (a *archiveWriter) finish(maxSize int64) ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, fmt.Errorf("epub: finalize archive: %w", err)
	}
	size := int64(a.buf.Len())
	if maxSize > 0 && size > maxSize {
		a.buf.Reset()
		return nil, fmt.Errorf("epub: archive is %s, limit is %s: %w",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(maxSize)), ErrFileTooLarge)
	}
	return a.buf.Bytes(), nil
}

// resolveRelativePath resolves href relative to the directory of basePath.
// Both basePath and href are ZIP-internal paths (forward-slash separated).
// The result is cleaned and validated to stay within the ZIP root.
// If the resolved path escapes root or is absolute, an empty string is returned.
func resolveRelativePath(basePath, href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// isSafePath checks whether p is a safe ZIP-internal path that does not
// escape the archive root via path traversal (e.g., "../../../etc/passwd").
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// stripBOM removes a leading UTF-8 BOM (0xEF 0xBB 0xBF) from data, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// readZipFile reads the full contents of a ZIP entry.
func readZipFile(f *zip.File) ([]byte, error) {
	return readZipFileWithLimit(f, maxDecompressSize)
}

// readZipFileWithLimit is the implementation of readZipFile with a configurable
// size limit. It is separated to allow tests to use a smaller limit.
func readZipFileWithLimit(f *zip.File, limit int64) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("epub: unsafe zip entry path: %s", f.Name)
	}

	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("epub: zip entry %s too large: %d bytes (max %d)", f.Name, f.UncompressedSize64, limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	// Read up to limit+1 to detect if the actual decompressed data
	// exceeds the limit (the declared size might be wrong/forged).
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("epub: zip entry %s decompressed size exceeds limit (%d bytes)", f.Name, limit)
	}

	return data, nil
}
