package imaging

import "image"

// Binary is a thresholded page: true marks ink.
type Binary struct {
	W, H int
	Ink  []bool
}

// At reports whether (x, y) is ink; out of range is background.
func (b *Binary) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.W || y >= b.H {
		return false
	}
	return b.Ink[y*b.W+x]
}

// Otsu returns the threshold that maximizes between-class variance.
func Otsu(g *image.Gray) uint8 {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	if total == 0 {
		return 128
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i * c)
	}

	var (
		sumB      float64
		wB        int
		best      float64
		threshold uint8 = 128
	)
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// Binarize thresholds img with Otsu. Pages with almost no contrast come back blank.
func Binarize(img image.Image) *Binary {
	g := ToGray(img)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	b := &Binary{W: w, H: h, Ink: make([]bool, w*h)}

	lo, hi := uint8(255), uint8(0)
	for _, p := range g.Pix {
		lo, hi = min(lo, p), max(hi, p)
	}
	if hi-lo < 32 {
		return b
	}

	t := Otsu(g)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for x, p := range row {
			b.Ink[y*w+x] = p <= t
		}
	}
	return b
}

// Rotate rotates the bitmap clockwise by deg (0, 90, 180, 270).
func (b *Binary) Rotate(deg int) *Binary {
	deg = ((deg % 360) + 360) % 360
	if deg == 0 {
		return b
	}
	out := &Binary{W: b.W, H: b.H, Ink: make([]bool, len(b.Ink))}
	if deg != 180 {
		out.W, out.H = b.H, b.W
	}
	for yd := 0; yd < out.H; yd++ {
		for xd := 0; xd < out.W; xd++ {
			var xs, ys int
			switch deg {
			case 90:
				xs, ys = yd, b.H-1-xd
			case 180:
				xs, ys = b.W-1-xd, b.H-1-yd
			case 270:
				xs, ys = b.W-1-yd, xd
			}
			out.Ink[yd*out.W+xd] = b.Ink[ys*b.W+xs]
		}
	}
	return out
}

// RowProfile counts ink pixels per row.
func (b *Binary) RowProfile() []int {
	p := make([]int, b.H)
	for y := 0; y < b.H; y++ {
		for _, ink := range b.Ink[y*b.W : (y+1)*b.W] {
			if ink {
				p[y]++
			}
		}
	}
	return p
}

// ColProfile counts ink pixels per column.
func (b *Binary) ColProfile() []int {
	p := make([]int, b.W)
	for y := 0; y < b.H; y++ {
		for x, ink := range b.Ink[y*b.W : (y+1)*b.W] {
			if ink {
				p[x]++
			}
		}
	}
	return p
}

// Density is the share of ink pixels inside r.
func (b *Binary) Density(r image.Rectangle) float64 {
	r = r.Intersect(image.Rect(0, 0, b.W, b.H))
	if r.Empty() {
		return 0
	}
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if b.Ink[y*b.W+x] {
				n++
			}
		}
	}
	return float64(n) / float64(r.Dx()*r.Dy())
}

// Band is a run of rows (or columns) with ink above a floor.
type Band struct {
	Start, End int // [Start, End)
}

// Bands splits a profile into runs where profile > floor, ignoring runs shorter than minLen.
func Bands(profile []int, floor, minLen int) []Band {
	var out []Band
	start := -1
	for i, v := range profile {
		if v > floor {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= minLen {
				out = append(out, Band{start, i})
			}
			start = -1
		}
	}
	if start >= 0 && len(profile)-start >= minLen {
		out = append(out, Band{start, len(profile)})
	}
	return out
}
