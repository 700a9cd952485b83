package video

import (
	"image"
	"image/color"
	"math"
)

// Palette for the synthesized frames. Matches the product's neutral
// dashboard styling.
var (
	bgTop     = color.RGBA{R: 0xf0, G: 0xf4, B: 0xf8, A: 0xff}
	bgBottom  = color.RGBA{R: 0xd9, G: 0xe2, B: 0xec, A: 0xff}
	hairColor = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	faceColor = color.RGBA{R: 0xfc, G: 0xd3, B: 0x4d, A: 0xff}
	bodyColor = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	white     = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	black     = color.RGBA{A: 0xff}
)

// drawBackground paints a vertical gradient across the whole canvas.
func drawBackground(dst *image.RGBA) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		t := float64(y-b.Min.Y) / float64(b.Dy())
		c := lerpColor(bgTop, bgBottom, t)
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.SetRGBA(x, y, c)
		}
	}
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(a.R) + (float64(b.R)-float64(a.R))*t),
		G: uint8(float64(a.G) + (float64(b.G)-float64(a.G))*t),
		B: uint8(float64(a.B) + (float64(b.B)-float64(a.B))*t),
		A: 0xff,
	}
}

// drawPlaceholder is the static-mode frame when no image was supplied: a
// brand disc centered on the gradient.
func drawPlaceholder(dst *image.RGBA) {
	b := dst.Bounds()
	cx, cy := b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2
	fillCircle(dst, cx, cy, 90, bodyColor)
	fillCircle(dst, cx, cy, 72, white)
	fillCircle(dst, cx, cy, 54, bodyColor)
}

// drawAvatar renders the assistant illustration. When a custom image is
// set it replaces the generated face, aspect-fit over the gradient. The
// speaking state opens the mouth and adds a breathing scale perturbation
// driven by animFrame.
func drawAvatar(dst *image.RGBA, custom image.Image, speaking bool, animFrame int) {
	if custom != nil {
		drawStatic(dst, custom)
		return
	}

	drawBackground(dst)

	scale := 1.0
	if speaking {
		scale = 1 + math.Sin(float64(animFrame)*math.Pi/180)*0.05
	}
	b := dst.Bounds()
	cx, cy := b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2
	r := func(v float64) int { return int(v * scale) }

	// Hair behind the face, then the face itself.
	fillCircle(dst, cx, cy-r(30), r(90), hairColor)
	fillCircle(dst, cx, cy, r(80), faceColor)

	// Eyes and pupils.
	fillCircle(dst, cx-r(30), cy, r(20), white)
	fillCircle(dst, cx+r(30), cy, r(20), white)
	fillCircle(dst, cx-r(30), cy, r(10), black)
	fillCircle(dst, cx+r(30), cy, r(10), black)

	// Mouth: filled half-disc while speaking, thin arc otherwise.
	if speaking {
		fillHalfCircle(dst, cx, cy+r(40), r(15), black)
	} else {
		strokeHalfCircle(dst, cx, cy+r(40), r(15), 3, black)
	}

	// Body.
	fillRect(dst, cx-r(60), cy+r(80), r(120), r(100), bodyColor)
}

func fillCircle(dst *image.RGBA, cx, cy, r int, c color.RGBA) {
	b := dst.Bounds()
	for y := cy - r; y <= cy+r; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		dy := y - cy
		for x := cx - r; x <= cx+r; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dx := x - cx
			if dx*dx+dy*dy <= r*r {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

// fillHalfCircle fills the lower half of a disc.
func fillHalfCircle(dst *image.RGBA, cx, cy, r int, c color.RGBA) {
	b := dst.Bounds()
	for y := cy; y <= cy+r; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		dy := y - cy
		for x := cx - r; x <= cx+r; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dx := x - cx
			if dx*dx+dy*dy <= r*r {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

// strokeHalfCircle draws the lower half of a ring of the given thickness.
func strokeHalfCircle(dst *image.RGBA, cx, cy, r, thickness int, c color.RGBA) {
	b := dst.Bounds()
	outer := r * r
	in := r - thickness
	inner := in * in
	for y := cy; y <= cy+r; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		dy := y - cy
		for x := cx - r; x <= cx+r; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dx := x - cx
			d := dx*dx + dy*dy
			if d <= outer && d >= inner {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

func fillRect(dst *image.RGBA, x0, y0, w, h int, c color.RGBA) {
	b := dst.Bounds()
	for y := y0; y < y0+h; y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		for x := x0; x < x0+w; x++ {
			if x < b.Min.X || x >= b.Max.X {
				continue
			}
			dst.SetRGBA(x, y, c)
		}
	}
}
