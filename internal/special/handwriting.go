package special

import (
	"image"
	"math"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const (
	// handwritingCV is the stroke-width variation above which a line reads as handwritten.
	handwritingCV = 0.6
	minStrokeRuns = 20
)

// detectHandwriting looks at the widths of horizontal ink runs in each text
// line. Printed glyphs have near-constant stroke width; pen strokes do not.
func detectHandwriting(a *analysis) []model.Region {
	b := a.bin
	maxStroke := max(20, b.W/20)
	var regions []model.Region

	for _, band := range imaging.Bands(b.RowProfile(), 0, 3) {
		var runs []float64
		left, right := b.W, -1
		for y := band.Start; y < band.End; y++ {
			x := 0
			for x < b.W {
				if !b.Ink[y*b.W+x] {
					x++
					continue
				}
				start := x
				for x < b.W && b.Ink[y*b.W+x] {
					x++
				}
				n := x - start
				if n > maxStroke {
					continue // rules and bars are not strokes
				}
				runs = append(runs, float64(n))
				left, right = min(left, start), max(right, x)
			}
		}
		if len(runs) < minStrokeRuns {
			continue
		}
		cv := variation(runs)
		if cv < handwritingCV {
			continue
		}
		regions = append(regions, model.Region{
			Type:       model.RegionHandwriting,
			Box:        a.toPage(image.Rect(left, band.Start, right, band.End)),
			Confidence: min(1.0, cv),
		})
	}
	return regions
}

func variation(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, x := range v {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq/float64(len(v))) / mean
}
