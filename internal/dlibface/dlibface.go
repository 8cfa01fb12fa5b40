// Package dlibface computes 128-d dlib descriptors through go-face.
package dlibface

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/types"
)

// Margin grows the detector box before cropping so dlib sees the whole face.
const Margin = 0.25

type Embedder struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// New loads the dlib models (shape predictor, resnet, cnn detector) from modelDir.
func New(modelDir string) (*Embedder, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models from %s: %w", modelDir, err)
	}
	return &Embedder{rec: rec}, nil
}

// Embed implements pipeline.Embedder. It returns nil when dlib finds no face in the crop.
func (e *Embedder) Embed(ctx context.Context, img *image.RGBA, region types.Region) (types.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	crop := frame.Crop(img, region.Box, Margin)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}

	e.mu.Lock()
	faces, err := e.rec.Recognize(buf.Bytes())
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	best := 0
	for i, f := range faces {
		if area(f.Rectangle) > area(faces[best].Rectangle) {
			best = i
		}
	}
	d := faces[best].Descriptor
	return types.Embedding(d[:]), nil
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Close()
	return nil
}
