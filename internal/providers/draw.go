package providers

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// JPEG qualities for annotated renders and raw-frame fallbacks.
const (
	RenderQuality = 85
	RawQuality    = 80
)

var (
	colorUsing  = color.RGBA{R: 255, A: 255}
	colorPerson = color.RGBA{G: 255, A: 255}
	colorPhone  = color.RGBA{B: 255, A: 255}
	colorLink   = color.RGBA{G: 255, B: 255, A: 255}
	colorLabel  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const strokeWidth = 2

// Annotate draws detections onto a copy of img: people in green, people
// using a phone in red with a label, phones in blue, and a line from each
// matched phone to the lower torso of its person.
func Annotate(img image.Image, persons, phones []Box, matches []Match) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)

	using := make(map[int]bool, len(matches))
	for _, m := range matches {
		using[m.Person] = true
	}

	for i, p := range persons {
		c, label := colorPerson, "person"
		if using[i] {
			c, label = colorUsing, "using"
		}
		strokeRect(out, p.Rect(), c)
		drawLabel(out, p.X1, p.Y1, label, c)
	}
	for _, h := range phones {
		strokeRect(out, h.Rect(), colorPhone)
	}
	for _, m := range matches {
		if m.Phone < 0 || m.Phone >= len(phones) || m.Person < 0 || m.Person >= len(persons) {
			continue
		}
		h, p := phones[m.Phone], persons[m.Person]
		cx, cy := (h.X1+h.X2)/2, (h.Y1+h.Y2)/2
		tx := (p.X1 + p.X2) / 2
		ty := p.Y1 + int(0.7*float64(p.Y2-p.Y1))
		strokeLine(out, cx, cy, tx, ty, colorLink)
	}
	return out
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Canon()
	w := strokeWidth
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w), c)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y), c)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y), c)
	fillRect(img, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// strokeLine draws a Bresenham line with a square pen.
func strokeLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	errAcc := dx + dy
	for {
		fillRect(img, image.Rect(x0, y0, x0+strokeWidth, y0+strokeWidth), c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * errAcc
		if e2 >= dy {
			errAcc += dy
			x0 += sx
		}
		if e2 <= dx {
			errAcc += dx
			y0 += sy
		}
	}
}

// drawLabel draws text on a filled tab whose bottom-left corner is (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(colorLabel), Face: face}
	tw := d.MeasureString(text).Ceil()
	th := face.Metrics().Ascent.Ceil()

	fillRect(img, image.Rect(x, y-th-6, x+tw+6, y), bg)
	d.Dot = fixed.P(x+3, y-4)
	d.DrawString(text)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
