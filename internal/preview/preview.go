// Package preview converts repository documents to PDF for display in the
// browser. Text is pulled out of the DOCX, laid out as simple HTML and handed
// to an external renderer; results are cached by source content.
package preview

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/tabula/docx"
	"github.com/tsawler/tabula/model"

	"github.com/FocuswithJustin/docmerge/core/cas"
	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/internal/cache"
	"github.com/FocuswithJustin/docmerge/internal/logging"
	"github.com/FocuswithJustin/docmerge/internal/validation"
)

// Extractor reads the text model of a DOCX file.
type Extractor func(path string) (*model.Document, error)

// ExtractDocx is the default Extractor.
func ExtractDocx(path string) (*model.Document, error) {
	r, err := docx.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Document()
}

// Converter produces PDF previews.
type Converter struct {
	renderer Renderer
	extract  Extractor
	cache    *cas.Store
	memory   *cache.LRU[string, []byte]
}

// Option configures a Converter.
type Option func(*Converter)

// WithCache stores rendered previews in store. Without it every call renders.
func WithCache(store *cas.Store) Option {
	return func(c *Converter) { c.cache = store }
}

// WithMemoryCache keeps recently served previews in memory, in front of the
// on-disk cache.
func WithMemoryCache(lru *cache.LRU[string, []byte]) Option {
	return func(c *Converter) { c.memory = lru }
}

// WithExtractor replaces the DOCX text extractor.
func WithExtractor(fn Extractor) Option {
	return func(c *Converter) { c.extract = fn }
}

// New returns a converter using renderer.
func New(renderer Renderer, opts ...Option) *Converter {
	c := &Converter{renderer: renderer, extract: ExtractDocx}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert returns the PDF preview of the DOCX file at path.
func (c *Converter) Convert(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()
	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "document", ID: path, Err: err}
		}
		return nil, errors.NewIO("read", path, err)
	}

	key := cas.HashParts(source, []byte(c.renderer.Name()))
	if c.memory != nil {
		if pdf, ok := c.memory.Get(key); ok {
			logging.DebugContext(ctx, "preview memory cache hit", "path", path, "key", key)
			return pdf, nil
		}
	}
	if c.cache != nil {
		if pdf, err := c.cache.Get(key); err == nil {
			logging.DebugContext(ctx, "preview cache hit", "path", path, "key", key)
			c.remember(key, pdf)
			return pdf, nil
		} else if !errors.Is(err, cas.ErrBlobNotFound) {
			logging.WarnContext(ctx, "preview cache read failed", "path", path, "error", err)
		}
	}

	if ok, _ := validation.LooksLikeZip(bytes.NewReader(source)); !ok {
		return nil, errors.NewDocumentLoad(path, "not a DOCX package", nil)
	}

	doc, err := c.extract(path)
	if err != nil {
		return nil, errors.NewDocumentLoad(path, "cannot extract text", err)
	}

	pdf, err := c.render(ctx, path, doc)
	if err != nil {
		logging.RenderFailed(ctx, path, err)
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(key, pdf); err != nil {
			logging.WarnContext(ctx, "preview cache write failed", "path", path, "error", err)
		}
	}
	c.remember(key, pdf)
	logging.InfoContext(ctx, "preview rendered", "path", path, "bytes", len(pdf), "duration_ms", time.Since(start).Milliseconds())
	return pdf, nil
}

func (c *Converter) remember(key string, pdf []byte) {
	if c.memory != nil {
		c.memory.Put(key, pdf)
	}
}

// render writes the HTML page to a private temp dir, runs the renderer and
// reads the PDF back. The temp dir is always removed.
func (c *Converter) render(ctx context.Context, path string, doc *model.Document) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docmerge-preview-*")
	if err != nil {
		return nil, errors.NewIO("create temp dir", "", err)
	}
	defer os.RemoveAll(dir)

	var page bytes.Buffer
	if err := BuildHTML(&page, doc); err != nil {
		return nil, errors.NewRender(c.renderer.Name(), path, "", err)
	}
	htmlPath := filepath.Join(dir, "preview.html")
	pdfPath := filepath.Join(dir, "preview.pdf")
	if err := os.WriteFile(htmlPath, page.Bytes(), 0600); err != nil {
		return nil, errors.NewIO("write", htmlPath, err)
	}

	if err := c.renderer.Render(ctx, htmlPath, pdfPath); err != nil {
		var out *OutputError
		output := ""
		if errors.As(err, &out) {
			output = out.Output
		}
		return nil, errors.NewRender(c.renderer.Name(), path, output, err)
	}

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, errors.NewRender(c.renderer.Name(), path, "no output produced", err)
	}
	if len(pdf) == 0 {
		return nil, errors.NewRender(c.renderer.Name(), path, "empty output", nil)
	}
	return pdf, nil
}
