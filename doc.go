// Package epub provides a pure-Go generator that packages a single extracted
// article into a valid ePub 3 file.
//
// It sanitises the article markup into well-formed XHTML, fetches and
// deduplicates the images it references, and writes an OCF archive whose
// first entry is the stored mimetype file required by readers.
//
// # Generating an ePub
//
// Use [NewGenerator] with [Options] (zero fields take the values of
// [DefaultOptions]), then call [Generator.Generate]:
//
//	g, err := epub.NewGenerator(epub.Options{Language: "en"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	blob, err := g.Generate(ctx, "Field notes", body)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile(epub.Filename("Field notes"), blob, 0644)
//
// [Generator.GenerateArticle] accepts an [Article] with a BaseURL so that
// relative image sources can be resolved.
//
// # Images
//
// Each distinct image source is fetched once by the configured [Fetcher].
// The default is an [HTTPFetcher] bounded by Options.FetchConcurrency and
// Options.FetchRate. data: URIs are decoded in place. Images are stored
// under OEBPS/images/ and the first one is declared as the cover. When
// Options.InlineImages is set they are embedded as data: URIs instead.
//
// An image that cannot be fetched is dropped from the book and logged; it
// never fails the generation.
//
// # Archive layout
//
// Entries are written in a fixed order:
//
//	mimetype
//	META-INF/container.xml
//	OEBPS/content.opf
//	OEBPS/nav.xhtml
//	OEBPS/chapter1.xhtml
//	OEBPS/style.css
//	OEBPS/images/image0.png ...
//
// Given an injected clock and identifier generator ([WithClock],
// [WithIDGenerator]) and a deterministic fetcher, identical input produces
// byte-identical output.
//
// # Verification
//
// [Verify] re-reads a blob and checks the structural rules of the container.
// Every blob returned by a Generator has passed it.
//
// # Error Handling
//
// The package defines sentinel errors for common failure cases:
//   - [ErrEmptyContent] – the article body is blank
//   - [ErrFileTooLarge] – the archive exceeds Options.MaxFileSize
//   - [ErrRender] – an internal invariant was violated
//   - [ErrInvalidOptions] – [NewGenerator] received out-of-range options
//   - [ErrImageFetchFailed] – a single image could not be acquired
package epub
