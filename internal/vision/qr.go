package vision

import (
	"context"
	"image"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// CodeReader decodes QR codes on the full-resolution grayscale frame.
type CodeReader struct {
	mu  sync.Mutex
	det gocv.QRCodeDetector
}

func NewCodeReader() *CodeReader {
	return &CodeReader{det: gocv.NewQRCodeDetector()}
}

// Decode implements pipeline.CodeReader.
func (c *CodeReader) Decode(ctx context.Context, img *image.RGBA) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mat, err := toMat(img)
	if err != nil {
		return "", err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(c.det.DetectAndDecode(gray, &points, &straight)), nil
}

func (c *CodeReader) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.det.Close()
	return nil
}
