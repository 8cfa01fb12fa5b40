package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/types"
)

var (
	colorIdentified = color.RGBA{R: 40, G: 200, B: 80, A: 255}
	colorUnknown    = color.RGBA{R: 230, G: 140, B: 20, A: 255}
	colorPending    = color.RGBA{R: 180, G: 180, B: 180, A: 255}
	colorFailed     = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	colorBanner     = color.RGBA{A: 255}
	colorText       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator draws the overlay with OpenCV and encodes the result as JPEG.
// It implements render.Encoder.
type Annotator struct {
	// Blank is the canvas size used while no camera frame exists.
	Blank   image.Point
	Quality int
}

func NewAnnotator(quality int) *Annotator {
	return &Annotator{Blank: image.Pt(640, 480), Quality: quality}
}

func (a *Annotator) Encode(s pipeline.Snapshot) ([]byte, error) {
	var mat gocv.Mat
	if s.Frame.Empty() {
		mat = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), a.Blank.Y, a.Blank.X, gocv.MatTypeCV8UC3)
	} else {
		m, err := toMat(s.Frame.Image)
		if err != nil {
			return nil, err
		}
		mat = m
	}
	defer mat.Close()

	boxColor := verdictColor(s.Verdict)
	if s.Phase == session.Reset {
		boxColor = colorFailed
	}
	for _, r := range s.Regions {
		gocv.Rectangle(&mat, r.Box, boxColor, 2)
		if s.Verdict.IsIdentified() {
			gocv.PutText(&mat, s.Verdict.Name, image.Pt(r.Box.Min.X, r.Box.Min.Y-8),
				gocv.FontHersheySimplex, 0.6, boxColor, 2)
		}
	}

	w, h := mat.Cols(), mat.Rows()
	gocv.Rectangle(&mat, image.Rect(0, h-44, w, h), colorBanner, -1)
	gocv.PutText(&mat, s.Caption, image.Pt(12, h-15), gocv.FontHersheySimplex, 0.7, colorText, 2)
	gocv.PutText(&mat, s.Phase.String(), image.Pt(12, 24), gocv.FontHersheySimplex, 0.6, colorPending, 1)
	if s.CodeCaptured {
		gocv.PutText(&mat, "QR OK", image.Pt(w-90, 24), gocv.FontHersheySimplex, 0.6, colorIdentified, 2)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, a.Quality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func verdictColor(v types.Verdict) color.RGBA {
	switch v.Kind {
	case types.VerdictIdentified:
		return colorIdentified
	case types.VerdictUnknown:
		return colorUnknown
	}
	return colorPending
}
