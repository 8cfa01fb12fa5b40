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

// SFaceEmbedder produces 128-d SFace features from a YuNet region.
type SFaceEmbedder struct {
	mu  sync.Mutex
	rec gocv.FaceRecognizerSF
}

func NewSFaceEmbedder(modelPath string) (*SFaceEmbedder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("sface model: %w", err)
	}
	return &SFaceEmbedder{rec: gocv.NewFaceRecognizerSF(modelPath, "")}, nil
}

// Embed implements pipeline.Embedder. The region's landmarks drive the alignment.
func (e *SFaceEmbedder) Embed(ctx context.Context, img *image.RGBA, region types.Region) (types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	box := regionRow(region)
	defer box.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	aligned := gocv.NewMat()
	defer aligned.Close()
	e.rec.AlignCrop(mat, box, &aligned)
	if aligned.Empty() {
		return nil, nil
	}

	feat := gocv.NewMat()
	defer feat.Close()
	e.rec.Feature(aligned, &feat)

	out := make(types.Embedding, feat.Cols()*feat.Rows())
	for i := range out {
		out[i] = feat.GetFloatAt(0, i)
	}
	return out, nil
}

// regionRow rebuilds the 1x15 YuNet row AlignCrop expects.
func regionRow(r types.Region) gocv.Mat {
	row := gocv.NewMatWithSize(1, 15, gocv.MatTypeCV32F)
	row.SetFloatAt(0, 0, float32(r.Box.Min.X))
	row.SetFloatAt(0, 1, float32(r.Box.Min.Y))
	row.SetFloatAt(0, 2, float32(r.Box.Dx()))
	row.SetFloatAt(0, 3, float32(r.Box.Dy()))
	for i, p := range r.Landmarks {
		row.SetFloatAt(0, 4+2*i, float32(p.X))
		row.SetFloatAt(0, 5+2*i, float32(p.Y))
	}
	row.SetFloatAt(0, 14, r.Score)
	return row
}

func (e *SFaceEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Close()
	return nil
}
