package resolver

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/objectfs/iconcache/pkg/types"
)

// Fit scales img to fit within size, preserving aspect ratio, and centres
// it on a transparent canvas of exactly size.
func Fit(img image.Image, size image.Point) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
	b := img.Bounds()
	if b.Empty() || size.X <= 0 || size.Y <= 0 {
		return dst
	}

	w, h := size.X, size.Y
	if b.Dx()*size.Y > b.Dy()*size.X {
		h = max(1, b.Dy()*size.X/b.Dx())
	} else {
		w = max(1, b.Dx()*size.Y/b.Dy())
	}
	x := (size.X - w) / 2
	y := (size.Y - h) / 2
	target := image.Rect(x, y, x+w, y+h)

	if b.Dx() == w && b.Dy() == h {
		draw.Draw(dst, target, img, b.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, target, img, b, draw.Src, nil)
	return dst
}

// ApplyMode adjusts img in place for mode. Disabled icons are desaturated
// and drawn at half opacity; active icons are unchanged.
func ApplyMode(img *image.NRGBA, mode types.RenderMode) *image.NRGBA {
	if mode != types.ModeDisabled {
		return img
	}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b := uint32(img.Pix[i]), uint32(img.Pix[i+1]), uint32(img.Pix[i+2])
		// Rec. 601 luma
		y := uint8((299*r + 587*g + 114*b) / 1000)
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = y, y, y
		img.Pix[i+3] /= 2
	}
	return img
}
