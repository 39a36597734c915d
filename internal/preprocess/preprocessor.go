// Package preprocess turns a raw document into normalized page images:
// PDF splitting, image decoding, orientation correction and resolution
// normalization.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const (
	// orientationMargin is how much a rotation must beat the unrotated page by.
	orientationMargin = 0.05
	// maxUpscale bounds how far small images are enlarged.
	maxUpscale = 4.0
)

// Config controls page normalization.
type Config struct {
	MaxPages         int
	DPI              float64
	MinDimension     int
	MaxDimension     int
	CheckOrientation bool
}

// Preprocessor opens documents and produces PageImages.
type Preprocessor struct {
	cfg        Config
	rasterizer Rasterizer
	scorer     OrientationScorer
	logger     *logging.Logger
}

// Option customizes a Preprocessor.
type Option func(*Preprocessor)

// WithRasterizer replaces the PDF rasterizer.
func WithRasterizer(r Rasterizer) Option {
	return func(p *Preprocessor) { p.rasterizer = r }
}

// WithScorer replaces the orientation heuristic.
func WithScorer(s OrientationScorer) Option {
	return func(p *Preprocessor) { p.scorer = s }
}

// New creates a Preprocessor. Zero config values fall back to defaults.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Preprocessor {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 4000
	}
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Preprocessor{
		cfg:        cfg,
		rasterizer: FitzRasterizer{},
		scorer:     ProjectionScorer{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Document is an opened input ready for per-page rendering.
type Document struct {
	Format    string
	PageCount int

	p           *Preprocessor
	raster      RasterDocument
	orientation bool
	closeOnce   sync.Once
}

// Inspect validates data without rendering any page and returns its format
// and page count.
func (p *Preprocessor) Inspect(data []byte) (string, int, error) {
	doc, err := p.Open(data, true)
	if err != nil {
		return "", 0, err
	}
	defer doc.Close()
	return doc.Format, doc.PageCount, nil
}

// Open detects the format, opens the document and enforces the page limit.
// checkOrientation is the per-submission toggle; it only takes effect when
// orientation checking is enabled in the config.
func (p *Preprocessor) Open(data []byte, checkOrientation bool) (*Document, error) {
	if len(data) == 0 {
		return nil, errors.NewValidationError("document is empty", nil)
	}
	format := DetectFormat(data)
	if format == "" {
		return nil, errors.NewUnsupportedFormatError(sniff(data))
	}

	var raster RasterDocument
	if format == FormatPDF {
		r, err := p.rasterizer.Open(data)
		if err != nil {
			return nil, errors.NewValidationError("document could not be opened", map[string]interface{}{
				"format": format,
				"error":  err.Error(),
			})
		}
		raster = r
	} else {
		raster = &imageDocument{data: data, format: format}
	}

	pages := raster.NumPages()
	if pages <= 0 {
		raster.Close()
		return nil, errors.NewValidationError("document has no pages", map[string]interface{}{"format": format})
	}
	if pages > p.cfg.MaxPages {
		raster.Close()
		return nil, errors.NewPageLimitExceededError(pages, p.cfg.MaxPages)
	}

	return &Document{
		Format:      format,
		PageCount:   pages,
		p:           p,
		raster:      raster,
		orientation: p.cfg.CheckOrientation && checkOrientation,
	}, nil
}

// Page renders and normalizes page i (zero-based). Failures are reported on
// the returned PageImage so that one bad page does not stop the others.
func (d *Document) Page(ctx context.Context, i int) (page model.PageImage) {
	page = model.PageImage{Index: i, PageNumber: i + 1}
	defer func() {
		if r := recover(); r != nil {
			page.Err = fmt.Errorf("page %d panicked during preprocessing: %v", i+1, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		page.Err = err
		return page
	}

	img, err := d.raster.Render(i, d.p.cfg.DPI)
	if err != nil {
		page.Err = err
		return page
	}
	if img.Bounds().Empty() {
		page.Err = fmt.Errorf("page %d rendered empty", i+1)
		return page
	}

	if d.orientation {
		page.Scores = d.p.scorer.Score(img)
		page.Orientation = chooseRotation(page.Scores, orientationMargin)
		if page.Orientation != 0 {
			img = imaging.Rotate(img, page.Orientation)
			d.p.logger.Debug("Corrected page orientation", "page", i+1, "rotation", page.Orientation)
		}
	}

	img = d.p.normalizeResolution(img)

	encoded, err := imaging.EncodePNG(img)
	if err != nil {
		page.Err = fmt.Errorf("failed to encode page %d: %w", i+1, err)
		return page
	}

	b := img.Bounds()
	page.Image = img
	page.PNG = encoded
	page.Width, page.Height = b.Dx(), b.Dy()
	return page
}

// Close releases the underlying document. Safe to call more than once.
func (d *Document) Close() error {
	var err error
	d.closeOnce.Do(func() { err = d.raster.Close() })
	return err
}

// Normalize renders every page of data.
func (p *Preprocessor) Normalize(ctx context.Context, data []byte, checkOrientation bool) ([]model.PageImage, error) {
	doc, err := p.Open(data, checkOrientation)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	pages := make([]model.PageImage, doc.PageCount)
	for i := range pages {
		pages[i] = doc.Page(ctx, i)
	}
	return pages, nil
}

// normalizeResolution scales img so its longer side lies within
// [MinDimension, MaxDimension].
func (p *Preprocessor) normalizeResolution(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := max(w, h)

	var f float64
	switch {
	case longer > p.cfg.MaxDimension:
		f = float64(p.cfg.MaxDimension) / float64(longer)
	case p.cfg.MinDimension > 0 && longer < p.cfg.MinDimension:
		f = math.Min(float64(p.cfg.MinDimension)/float64(longer), maxUpscale)
	default:
		return img
	}
	nw := max(1, int(math.Round(float64(w)*f)))
	nh := max(1, int(math.Round(float64(h)*f)))
	return imaging.Scale(img, nw, nh)
}

func sniff(data []byte) string {
	n := min(len(data), 8)
	return fmt.Sprintf("% x", data[:n])
}
