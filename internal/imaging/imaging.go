// Package imaging holds the pixel helpers shared by preprocessing and
// special-item detection: grayscale conversion, Otsu binarization,
// rotation by right angles and resampling.
package imaging

import (
	"bytes"
	"image"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// ToRGBA returns img as *image.RGBA with its origin at (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// ToGray returns img as *image.Gray with its origin at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Scale resamples img to w x h.
func Scale(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// ScaleFast is a cheaper resample for analysis copies.
func ScaleFast(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// FitWithin shrinks img so that its longer side is at most maxDim.
func FitWithin(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer := max(w, h)
	if longer <= maxDim || longer == 0 {
		return img
	}
	f := float64(maxDim) / float64(longer)
	return ScaleFast(img, max(1, int(float64(w)*f)), max(1, int(float64(h)*f)))
}

// Rotate rotates img clockwise by deg, which must be 0, 90, 180 or 270.
func Rotate(img image.Image, deg int) image.Image {
	deg = ((deg % 360) + 360) % 360
	if deg == 0 {
		return img
	}
	src := ToRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	var dst *image.RGBA
	if deg == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	dw, dh := dst.Rect.Dx(), dst.Rect.Dy()

	for yd := 0; yd < dh; yd++ {
		for xd := 0; xd < dw; xd++ {
			var xs, ys int
			switch deg {
			case 90:
				xs, ys = yd, h-1-xd
			case 180:
				xs, ys = w-1-xd, h-1-yd
			case 270:
				xs, ys = w-1-yd, xd
			}
			si := ys*src.Stride + xs*4
			di := yd*dst.Stride + xd*4
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

// EncodePNG encodes img with fast compression.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
