package pipeline

import (
	"context"
	"image"

	"github.com/google/uuid"

	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/types"
)

// Source is the paced camera feed. *frame.Source implements it.
type Source interface {
	Next(ctx context.Context) (frame.Frame, error)
	Open() error
}

// MeshEstimator returns the dense landmark mesh of the most prominent face, or nil when there is none.
type MeshEstimator interface {
	Estimate(ctx context.Context, img *image.RGBA) (*types.Mesh, error)
}

// FaceDetector finds face regions in img. When enhance is set the image is
// dark and the detector should normalize contrast first.
type FaceDetector interface {
	Detect(ctx context.Context, img *image.RGBA, enhance bool) ([]types.Region, error)
}

// Embedder computes the descriptor of the face inside region. A nil
// embedding with a nil error means no usable face was found there.
type Embedder interface {
	Embed(ctx context.Context, img *image.RGBA, region types.Region) (types.Embedding, error)
}

// CodeReader decodes a QR payload. An empty string means nothing was found.
type CodeReader interface {
	Decode(ctx context.Context, img *image.RGBA) (string, error)
}

// TransactionRequest carries everything the backend handoff needs from a latched session.
type TransactionRequest struct {
	SessionID uuid.UUID
	Code      string
	Name      string
}

type TransactionProcessor interface {
	Process(ctx context.Context, req TransactionRequest) (*session.Outcome, error)
}

// Renderer receives one snapshot per tick. Render must not block.
type Renderer interface {
	Render(s Snapshot)
}

// Engines groups the perception backends.
type Engines struct {
	Mesh     MeshEstimator
	Detector FaceDetector
	Embedder Embedder
	Codes    CodeReader
}
