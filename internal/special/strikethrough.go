package special

import (
	"image"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const (
	strikeMaxThickness = 10
	strikeMargin       = 6
	strikeTextDensity  = 0.1
)

// detectStrikethrough finds thin horizontal lines with text both directly
// above and directly below them. Underlines only have text above; table
// rules have cell padding on both sides.
func detectStrikethrough(a *analysis) []model.Region {
	b := a.bin
	var regions []model.Region
	for _, seg := range horizontalSegments(b, max(30, b.W/40)) {
		if seg.Dy() > strikeMaxThickness {
			continue
		}
		above := image.Rect(seg.Min.X, seg.Min.Y-strikeMargin, seg.Max.X, seg.Min.Y)
		below := image.Rect(seg.Min.X, seg.Max.Y, seg.Max.X, seg.Max.Y+strikeMargin)
		da, db := b.Density(above), b.Density(below)
		if da < strikeTextDensity || db < strikeTextDensity {
			continue
		}
		regions = append(regions, model.Region{
			Type:       model.RegionStrikethrough,
			Box:        a.toPage(seg.Inset(-1)),
			Confidence: min(1.0, 0.7+min(da, db)),
		})
	}
	return regions
}
