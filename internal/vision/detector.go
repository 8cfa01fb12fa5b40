package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/warden/internal/types"
)

// Detector wraps OpenCV's YuNet model.
type Detector struct {
	mu    sync.Mutex
	net   gocv.FaceDetectorYN
	clahe gocv.CLAHE
}

func NewDetector(modelPath string, scoreThreshold float64) (*Detector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("detector model: %w", err)
	}
	net := gocv.NewFaceDetectorYNWithParams(
		modelPath,
		"",
		image.Pt(320, 320), // resized per frame
		float32(scoreThreshold),
		0.3,
		50,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &Detector{net: net, clahe: gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))}, nil
}

// Detect implements pipeline.FaceDetector.
func (d *Detector) Detect(ctx context.Context, img *image.RGBA, enhance bool) ([]types.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if enhance {
		d.equalize(&mat)
	}

	faces := gocv.NewMat()
	defer faces.Close()
	d.net.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))
	d.net.Detect(mat, &faces)

	return parseFaces(faces, img.Rect), nil
}

// equalize applies CLAHE to the lightness channel only so colours are preserved.
func (d *Detector) equalize(mat *gocv.Mat) {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(*mat, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()
	d.clahe.Apply(channels[0], &channels[0])
	gocv.Merge(channels, &lab)
	gocv.CvtColor(lab, mat, gocv.ColorLabToBGR)
}

// parseFaces reads YuNet rows: 0-3 box, 4-13 five landmarks, 14 score.
func parseFaces(faces gocv.Mat, bounds image.Rectangle) []types.Region {
	var out []types.Region
	for r := 0; r < faces.Rows(); r++ {
		x := int(faces.GetFloatAt(r, 0))
		y := int(faces.GetFloatAt(r, 1))
		w := int(faces.GetFloatAt(r, 2))
		h := int(faces.GetFloatAt(r, 3))
		box := image.Rect(x, y, x+w, y+h).Intersect(bounds)
		if box.Empty() {
			continue
		}
		reg := types.Region{Box: box, Score: faces.GetFloatAt(r, 14)}
		for i := range reg.Landmarks {
			reg.Landmarks[i] = image.Pt(int(faces.GetFloatAt(r, 4+2*i)), int(faces.GetFloatAt(r, 5+2*i)))
		}
		out = append(out, reg)
	}
	return out
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clahe.Close()
	d.net.Close()
	return nil
}
