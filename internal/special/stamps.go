package special

import (
	"image"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// isSeal reports whether a pixel is the saturated red of a seal impression.
func isSeal(r, g, b uint8) bool {
	return r >= 140 && int(r)-int(g) >= 60 && int(r)-int(b) >= 60
}

// detectStamps finds red, roughly square blobs. Seal rings are hollow, so the
// fill ratio only needs to be small.
func detectStamps(a *analysis) []model.Region {
	w, h := a.rgba.Rect.Dx(), a.rgba.Rect.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*a.rgba.Stride + x*4
			p := a.rgba.Pix[i : i+4]
			mask[y*w+x] = isSeal(p[0], p[1], p[2])
		}
	}

	minSide := max(8, max(w, h)/60)
	var regions []model.Region
	for _, c := range components(mask, w, h) {
		bw, bh := c.box.Dx(), c.box.Dy()
		if bw < minSide || bh < minSide {
			continue
		}
		aspect := float64(bw) / float64(bh)
		if aspect < 0.5 || aspect > 2.0 {
			continue
		}
		fill := float64(c.pixels) / float64(bw*bh)
		if fill < 0.05 {
			continue
		}
		regions = append(regions, model.Region{
			Type:       model.RegionStamp,
			Box:        a.toPage(c.box),
			Confidence: min(1.0, 0.7+fill/2),
		})
	}
	return regions
}

type component struct {
	box    image.Rectangle
	pixels int
}

// components labels 8-connected regions of mask.
func components(mask []bool, w, h int) []component {
	seen := make([]bool, len(mask))
	var out []component
	stack := make([]int, 0, 256)

	for start, on := range mask {
		if !on || seen[start] {
			continue
		}
		c := component{box: image.Rect(start%w, start/w, start%w+1, start/w+1)}
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			c.pixels++
			c.box = c.box.Union(image.Rect(x, y, x+1, y+1))
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if mask[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		out = append(out, c)
	}
	return out
}
