// Package enroll builds the known-face gallery from a folder of reference images.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/store"
	"github.com/andresmejia3/warden/internal/types"
	"github.com/andresmejia3/warden/internal/utils"
)

var (
	ErrNoFace  = errors.New("no face found in image")
	ErrSkipped = errors.New("identity already enrolled")
)

type IdentityWriter interface {
	CreateIdentity(ctx context.Context, name, model, source string, emb types.Embedding) (int, error)
}

// Enroller embeds reference images and stores them under the file's name.
type Enroller struct {
	// Detector is optional. Without it the whole image is treated as the face.
	Detector pipeline.FaceDetector
	Embedder pipeline.Embedder
	Store    IdentityWriter
	Model    string
}

// Result is the outcome for one file.
type Result struct {
	Path string
	Name string
	ID   int
	Err  error
}

// Dir enrolls every image in dir, calling progress after each file.
// Per-file failures are reported in the results, not returned.
func (e *Enroller) Dir(ctx context.Context, dir string, progress func(Result)) ([]Result, error) {
	files, err := utils.ListImageFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	results := make([]Result, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := Result{Path: path, Name: utils.NameFromPath(path)}
		res.ID, res.Err = e.File(ctx, path, res.Name)
		results = append(results, res)
		if progress != nil {
			progress(res)
		}
	}
	return results, nil
}

// File enrolls a single image as name.
func (e *Enroller) File(ctx context.Context, path, name string) (int, error) {
	img, err := load(path)
	if err != nil {
		return 0, err
	}
	emb, err := e.embed(ctx, img)
	if err != nil {
		return 0, err
	}
	id, err := e.Store.CreateIdentity(ctx, name, e.Model, path, emb)
	if errors.Is(err, store.ErrIdentityExists) {
		return 0, fmt.Errorf("%w: %s", ErrSkipped, name)
	}
	return id, err
}

func (e *Enroller) embed(ctx context.Context, img *image.RGBA) (types.Embedding, error) {
	region := types.Region{Box: img.Rect, Score: 1}
	if e.Detector != nil {
		regions, err := e.Detector.Detect(ctx, img, frame.MeanLuma(img) < 80)
		if err != nil {
			return nil, fmt.Errorf("detect: %w", err)
		}
		if len(regions) == 0 {
			return nil, ErrNoFace
		}
		region = regions[types.Largest(regions)]
	}

	emb, err := e.Embedder.Embed(ctx, img, region)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(emb) == 0 {
		return nil, ErrNoFace
	}
	return emb, nil
}

func load(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return frame.ToRGBA(img), nil
}
