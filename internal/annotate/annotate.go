// Package annotate implements the Annotator (spec.md §4.7): it draws
// detection boxes, labels, a timestamp, object count and FPS onto a clone of
// the display scratch surface so the surface itself stays safe to overwrite
// on the next frame.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/rkvision/edgestream/internal/nn"
)

var boxColor = color.RGBA{0, 220, 0, 255}
var textColor = color.White
var bgColor = color.Black

// Overlay carries everything one frame's annotation pass needs besides the
// pixel data itself.
type Overlay struct {
	Detections []nn.Detection
	Timestamp  time.Time
	FPS        float64
}

// Draw clones src (a BGR interleaved byte buffer, width x height) into a new
// image.RGBA, draws the overlay onto the clone, and returns it. The caller
// owns src and may reuse it immediately; the returned image only aliases
// freshly allocated memory.
func Draw(src []byte, width, height int, overlay Overlay) (*image.RGBA, error) {
	needed := width * height * 3
	if len(src) < needed {
		return nil, fmt.Errorf("annotate: source buffer too small: %d < %d", len(src), needed)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		srcRow := y * width * 3
		dstRow := img.PixOffset(0, y)
		for x := 0; x < width; x++ {
			b := src[srcRow+x*3+0]
			g := src[srcRow+x*3+1]
			r := src[srcRow+x*3+2]
			o := dstRow + x*4
			img.Pix[o+0] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = b
			img.Pix[o+3] = 255
		}
	}

	for _, det := range overlay.Detections {
		drawBox(img, det.Box)
		label := fmt.Sprintf("%s %.0f%%", det.ClassName, det.Confidence*100)
		drawLabel(img, int(det.Box.Left), int(det.Box.Top)-12, label, boxColor, bgColor)
	}

	header := fmt.Sprintf("%s  objs=%d  fps=%.1f",
		overlay.Timestamp.Format("15:04:05.000"), len(overlay.Detections), overlay.FPS)
	drawLabel(img, 4, 4, header, textColor, bgColor)

	return img, nil
}

func drawBox(img *image.RGBA, b nn.Box) {
	left, top, right, bottom := int(b.Left), int(b.Top), int(b.Right), int(b.Bottom)
	const thickness = 2
	for t := 0; t < thickness; t++ {
		drawHLine(img, left, right, top+t, boxColor)
		drawHLine(img, left, right, bottom-t, boxColor)
		drawVLine(img, left+t, top, bottom, boxColor)
		drawVLine(img, right-t, top, bottom, boxColor)
	}
}

func drawHLine(img *image.RGBA, x0, x1, y int, c color.Color) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	for x := x0; x <= x1; x++ {
		if x >= 0 && x < img.Bounds().Dx() {
			img.Set(x, y, c)
		}
	}
}

func drawVLine(img *image.RGBA, x, y0, y1 int, c color.Color) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		if y >= 0 && y < img.Bounds().Dy() {
			img.Set(x, y, c)
		}
	}
}

// drawLabel draws text over a filled background rectangle, grounded on the
// same font.Drawer + basicfont pattern the teacher's webrtc annotator uses.
func drawLabel(dst *image.RGBA, x, y int, text string, fg, bg color.Color) {
	if y < 0 {
		y = 0
	}
	const padding = 1
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + padding), Y: fixed.I(y + padding + 8)},
	}

	textWidth := d.MeasureString(text).Ceil()
	const textHeight = 10

	bgRect := image.Rect(x, y, x+textWidth+2*padding, y+textHeight+2*padding)
	draw.Draw(dst, bgRect.Intersect(dst.Bounds()), image.NewUniform(bg), image.Point{}, draw.Src)

	d.DrawString(text)
}
