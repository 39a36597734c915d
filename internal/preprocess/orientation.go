package preprocess

import (
	"image"
	"math"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/imaging"
)

// Rotations are the clockwise corrections considered for every page.
var Rotations = []int{0, 90, 180, 270}

// OrientationScorer rates each clockwise rotation of a page by how upright the
// result looks. Scores are comparable within one call only.
type OrientationScorer interface {
	Score(img image.Image) map[int]float64
}

// ProjectionScorer scores rotations from ink projection profiles of a
// binarized, downsampled copy of the page:
//
//   - text lines: upright text has a spiky row profile and a flat column
//     profile, which separates 0/180 from 90/270;
//   - baseline asymmetry: inside a text line, ink sits below the band middle
//     because ascenders are sparser than letter bodies;
//   - margin alignment: left edges of lines align, right edges are ragged.
//
// The last two separate 0 from 180. Scores are normalized to sum to 1.
type ProjectionScorer struct {
	// AnalysisDim bounds the longer side of the analysis copy.
	AnalysisDim int
}

func (s ProjectionScorer) Score(img image.Image) map[int]float64 {
	dim := s.AnalysisDim
	if dim <= 0 {
		dim = 600
	}
	bin := imaging.Binarize(imaging.FitWithin(img, dim))

	scores := make(map[int]float64, len(Rotations))
	var total float64
	for _, r := range Rotations {
		v := uprightScore(bin.Rotate(r))
		scores[r] = v
		total += v
	}
	if total <= 0 {
		for _, r := range Rotations {
			scores[r] = 1 / float64(len(Rotations))
		}
		return scores
	}
	for r := range scores {
		scores[r] /= total
	}
	return scores
}

func uprightScore(b *imaging.Binary) float64 {
	rows, cols := b.RowProfile(), b.ColProfile()
	cvRow, cvCol := coefficientOfVariation(rows), coefficientOfVariation(cols)
	if cvRow+cvCol == 0 {
		return 0
	}
	lines := cvRow / (cvRow + cvCol)

	bands := imaging.Bands(rows, 0, 2)
	if len(bands) == 0 {
		return lines
	}
	dir := clamp(2*baselineAsymmetry(b, bands)+marginAlignment(b, bands), -1, 1)
	return math.Max(0, lines*(1+0.25*dir))
}

// baselineAsymmetry is the mean offset of each band's ink centroid from the
// band middle, in band heights. Positive means ink sits low.
func baselineAsymmetry(b *imaging.Binary, bands []imaging.Band) float64 {
	var sum float64
	n := 0
	for _, band := range bands {
		height := band.End - band.Start
		if height < 3 {
			continue
		}
		var mass, moment float64
		for y := band.Start; y < band.End; y++ {
			c := 0
			for _, ink := range b.Ink[y*b.W : (y+1)*b.W] {
				if ink {
					c++
				}
			}
			mass += float64(c)
			moment += float64(c) * float64(y-band.Start)
		}
		if mass == 0 {
			continue
		}
		rel := moment / mass / float64(height-1)
		sum += rel - 0.5
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// marginAlignment compares the spread of line starts to the spread of line
// ends. Positive means lines share a left margin.
func marginAlignment(b *imaging.Binary, bands []imaging.Band) float64 {
	if len(bands) < 2 {
		return 0
	}
	lefts := make([]float64, 0, len(bands))
	rights := make([]float64, 0, len(bands))
	for _, band := range bands {
		left, right := b.W, -1
		for y := band.Start; y < band.End; y++ {
			for x := 0; x < b.W; x++ {
				if b.Ink[y*b.W+x] {
					left = min(left, x)
					right = max(right, x)
				}
			}
		}
		if right < 0 {
			continue
		}
		lefts = append(lefts, float64(left))
		rights = append(rights, float64(right))
	}
	sl, sr := stddev(lefts), stddev(rights)
	if sl+sr == 0 {
		return 0
	}
	return (sr - sl) / (sr + sl)
}

// chooseRotation picks the best rotation. Anything other than 0 must beat
// the unrotated score by margin; ties keep the lower angle.
func chooseRotation(scores map[int]float64, margin float64) int {
	best := 0
	for _, r := range Rotations[1:] {
		if scores[r] > scores[best] {
			best = r
		}
	}
	if best != 0 && scores[best]-scores[0] < margin {
		return 0
	}
	return best
}

func coefficientOfVariation(p []int) float64 {
	if len(p) == 0 {
		return 0
	}
	var sum float64
	for _, v := range p {
		sum += float64(v)
	}
	mean := sum / float64(len(p))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range p {
		d := float64(v) - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(p))) / mean
}

func stddev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var sq float64
	for _, x := range v {
		sq += (x - mean) * (x - mean)
	}
	return math.Sqrt(sq / float64(len(v)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
