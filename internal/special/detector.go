// Package special flags stamps, handwriting, tables and strikethrough on a
// recognized page. Detectors only annotate; they never change the text.
package special

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// analysisDim bounds the longer side of the copy the image detectors work on.
const analysisDim = 1600

// Config toggles each detector. A disabled detector is never invoked.
type Config struct {
	Stamps        bool
	Handwriting   bool
	Tables        bool
	Strikethrough bool
}

// Detector runs the enabled special-item detectors.
type Detector struct {
	cfg    Config
	logger *logging.Logger
}

// New creates a Detector.
func New(cfg Config, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// analysis is the shared, downsampled view of a page.
type analysis struct {
	rgba *image.RGBA
	bin  *imaging.Binary
	// scale converts page pixels to analysis pixels
	scale float64
}

// toPage maps an analysis rectangle back to page coordinates.
func (a *analysis) toPage(r image.Rectangle) model.BoundingBox {
	return model.BoundingBox{
		X:      int(float64(r.Min.X) / a.scale),
		Y:      int(float64(r.Min.Y) / a.scale),
		Width:  int(float64(r.Dx()) / a.scale),
		Height: int(float64(r.Dy()) / a.scale),
	}
}

type imageDetector struct {
	kind    model.RegionType
	enabled bool
	run     func(a *analysis) []model.Region
}

// Annotate runs every enabled detector. A detector that fails or panics
// reports nothing; the others still run.
func (d *Detector) Annotate(ctx context.Context, page model.PageImage, text string) model.SpecialItems {
	items := model.SpecialItems{Regions: []model.Region{}}

	if d.cfg.Tables {
		if regions, err := safely(func() []model.Region { return detectTextTables(text) }); err != nil {
			d.logger.Warn("Table text detector failed", "page", page.PageNumber, "error", err)
		} else {
			items.Regions = append(items.Regions, regions...)
		}
	}

	detectors := []imageDetector{
		{model.RegionStamp, d.cfg.Stamps, detectStamps},
		{model.RegionHandwriting, d.cfg.Handwriting, detectHandwriting},
		{model.RegionTable, d.cfg.Tables, detectRuledTables},
		{model.RegionStrikethrough, d.cfg.Strikethrough, detectStrikethrough},
	}
	needImage := false
	for _, det := range detectors {
		needImage = needImage || det.enabled
	}

	if needImage {
		a, err := prepare(page)
		if err != nil {
			d.logger.Warn("Special-item detection skipped", "page", page.PageNumber, "error", err)
		} else {
			for _, det := range detectors {
				if !det.enabled {
					continue
				}
				if ctx.Err() != nil {
					break
				}
				regions, err := safely(func() []model.Region { return det.run(a) })
				if err != nil {
					d.logger.Warn("Special-item detector failed", "detector", string(det.kind), "page", page.PageNumber, "error", err)
					continue
				}
				items.Regions = append(items.Regions, regions...)
			}
		}
	}

	for _, r := range items.Regions {
		switch r.Type {
		case model.RegionStamp:
			items.HasStamps = true
		case model.RegionHandwriting:
			items.HasHandwriting = true
		case model.RegionTable:
			items.HasTable = true
		case model.RegionStrikethrough:
			items.HasStrikethrough = true
		}
	}
	return items
}

func prepare(page model.PageImage) (*analysis, error) {
	img := page.Image
	if img == nil && len(page.PNG) > 0 {
		decoded, err := png.Decode(bytes.NewReader(page.PNG))
		if err != nil {
			return nil, fmt.Errorf("failed to decode page image: %w", err)
		}
		img = decoded
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("page has no image")
	}

	small := imaging.FitWithin(img, analysisDim)
	scale := float64(small.Bounds().Dx()) / float64(img.Bounds().Dx())
	rgba := imaging.ToRGBA(small)
	return &analysis{rgba: rgba, bin: imaging.Binarize(rgba), scale: scale}, nil
}

func safely(fn func() []model.Region) (regions []model.Region, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(), nil
}
