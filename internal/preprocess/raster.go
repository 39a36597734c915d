package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// RasterDocument is an opened multi-page document.
type RasterDocument interface {
	NumPages() int
	// Render rasterizes the zero-based page i at dpi.
	Render(i int, dpi float64) (image.Image, error)
	Close() error
}

// Rasterizer opens PDF documents for page rendering.
type Rasterizer interface {
	Open(data []byte) (RasterDocument, error)
}

// FitzRasterizer renders PDFs with MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) Open(data []byte) (RasterDocument, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// fitzDocument serializes access: a MuPDF context is not safe for concurrent use.
type fitzDocument struct {
	mu  sync.Mutex
	doc *fitz.Document
}

func (d *fitzDocument) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *fitzDocument) Render(i int, dpi float64) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.doc.ImageDPI(i, dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}

// imageDocument wraps a single still image as a one-page document.
type imageDocument struct {
	data   []byte
	format string
}

func (d *imageDocument) NumPages() int { return 1 }

func (d *imageDocument) Render(i int, _ float64) (image.Image, error) {
	if i != 0 {
		return nil, fmt.Errorf("image documents have a single page, asked for %d", i+1)
	}
	return decodeImage(d.data, d.format)
}

func (d *imageDocument) Close() error { return nil }

func decodeImage(data []byte, format string) (image.Image, error) {
	if format == FormatHEIC {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode HEIC: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", format, err)
	}
	return img, nil
}
