package types

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// IsEmpty reports whether img carries no pixels.
func IsEmpty(img image.Image) bool {
	if img == nil {
		return true
	}
	if n, ok := img.(*image.NRGBA); ok && n == nil {
		return true
	}
	return img.Bounds().Empty()
}

// ToNRGBA converts img to a zero-origin *image.NRGBA. The result never
// aliases img.
func ToNRGBA(img image.Image) *image.NRGBA {
	if IsEmpty(img) {
		return nil
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// CloneNRGBA returns a deep copy of img.
func CloneNRGBA(img *image.NRGBA) *image.NRGBA {
	if img == nil {
		return nil
	}
	out := &image.NRGBA{
		Pix:    make([]uint8, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}

// ImageByteCost returns the RGBA8 footprint of img.
func ImageByteCost(img image.Image) int64 {
	if IsEmpty(img) {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

// SameDimensions reports whether a and b have the same width and height.
func SameDimensions(a, b image.Image) bool {
	if IsEmpty(a) || IsEmpty(b) {
		return IsEmpty(a) == IsEmpty(b)
	}
	return a.Bounds().Size() == b.Bounds().Size()
}

// EqualPixels compares two images pixel by pixel in NRGBA space.
func EqualPixels(a, b image.Image) bool {
	if !SameDimensions(a, b) {
		return false
	}
	if IsEmpty(a) {
		return true
	}
	ab, bb := a.Bounds(), b.Bounds()
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ca := color.NRGBAModel.Convert(a.At(ab.Min.X+x, ab.Min.Y+y))
			cb := color.NRGBAModel.Convert(b.At(bb.Min.X+x, bb.Min.Y+y))
			if ca != cb {
				return false
			}
		}
	}
	return true
}
