package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/types"
)

// JPEGEncoder draws the overlay without cgo. It is selected with
// RENDER_ENCODER=native and is the default for a Server built without one.
type JPEGEncoder struct {
	Quality int
}

var blankSize = image.Rect(0, 0, 640, 480)

func (e JPEGEncoder) Encode(s pipeline.Snapshot) ([]byte, error) {
	var canvas *image.RGBA
	if s.Frame.Empty() {
		canvas = image.NewRGBA(blankSize)
		draw.Draw(canvas, canvas.Rect, image.NewUniform(color.RGBA{R: 30, G: 30, B: 30, A: 255}), image.Point{}, draw.Src)
	} else {
		canvas = image.NewRGBA(s.Frame.Image.Rect)
		draw.Draw(canvas, canvas.Rect, s.Frame.Image, s.Frame.Image.Rect.Min, draw.Src)
	}

	c := boxColor(s)
	for _, r := range s.Regions {
		outline(canvas, r.Box, c, 2)
	}

	b := canvas.Rect
	banner := image.Rect(b.Min.X, b.Max.Y-24, b.Max.X, b.Max.Y)
	draw.Draw(canvas, banner, image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	label(canvas, image.Pt(b.Min.X+8, b.Max.Y-8), s.Caption)
	label(canvas, image.Pt(b.Min.X+8, b.Min.Y+16), s.Phase.String())

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func boxColor(s pipeline.Snapshot) color.RGBA {
	switch {
	case s.Phase == session.Reset:
		return color.RGBA{R: 220, G: 40, B: 40, A: 255}
	case s.Verdict.Kind == types.VerdictIdentified:
		return color.RGBA{R: 40, G: 200, B: 80, A: 255}
	case s.Verdict.Kind == types.VerdictUnknown:
		return color.RGBA{R: 230, G: 140, B: 20, A: 255}
	}
	return color.RGBA{R: 180, G: 180, B: 180, A: 255}
}

func outline(dst *image.RGBA, r image.Rectangle, c color.RGBA, width int) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Rect), u, image.Point{}, draw.Src)
	}
}

func label(dst *image.RGBA, at image.Point, text string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(text)
}
