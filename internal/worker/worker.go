// Package worker runs the MediaPipe face-mesh sidecar. Frames go to the
// Python process over stdin; replies come back on a dedicated pipe (FD 3)
// so stray prints on stdout cannot corrupt the protocol.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/warden/internal/types"
	"github.com/andresmejia3/warden/internal/utils" // Using the SafeCommand wrapper
)

var ErrWorkerDown = errors.New("mesh worker is not running")

// These bound a reply so a corrupt header cannot trigger a huge allocation.
const (
	maxPoints = 1024
	// maxReply fits a full mesh reply: status, count and maxPoints xyz triples.
	maxReply    = 1 << 16
	maxErrorMsg = 4096
)

type MeshWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	// Quality is the JPEG quality of frames sent to Python.
	Quality int

	python string
	script string
	mu     sync.Mutex
}

// NewMeshWorker starts `python -u script` and wires its FD 3 back to us.
func NewMeshWorker(python, script string) (*MeshWorker, error) {
	w := &MeshWorker{python: python, script: script, Quality: 85}
	if err := w.start(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *MeshWorker) start() error {
	py := utils.NewSafeCommand(w.python, "-u", w.script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{pw}

	stdin, err := py.StdinPipe()
	if err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("mesh worker failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	pw.Close()

	w.Cmd, w.Stdin, w.DataPipe = py, stdin, r
	return nil
}

// Communicate sends one length-prefixed request and reads the length-prefixed reply.
func (w *MeshWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // A crashed interpreter surfaces here as EOF
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxReply {
		return nil, fmt.Errorf("mesh worker reply of %d bytes exceeds %d", respLen, maxReply)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Estimate returns the face mesh in img, or nil when Python found no face.
// A broken pipe tears the process down; the next call starts a fresh one.
func (w *MeshWorker) Estimate(ctx context.Context, img *image.RGBA) (*types.Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: w.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Stdin == nil {
		if w.python == "" {
			return nil, ErrWorkerDown
		}
		if err := w.start(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWorkerDown, err)
		}
	}

	resp, err := w.Communicate(buf.Bytes())
	if err != nil {
		logs := w.Logs()
		w.stop()
		if logs != "" {
			return nil, fmt.Errorf("%w: %v\n%s", ErrWorkerDown, err, logs)
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkerDown, err)
	}
	return decodeMesh(resp)
}

// decodeMesh parses [Status:0][Count][Count x (x,y,z float32)] or [Status:1][MsgLen][Msg].
func decodeMesh(resp []byte) (*types.Mesh, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty reply from mesh worker")
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("truncated reply from mesh worker: %w", err)
	}

	if status != 0 {
		if n > maxErrorMsg || int64(n) > int64(r.Len()) {
			return nil, fmt.Errorf("truncated error from mesh worker: %d byte message", n)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("truncated error from mesh worker: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}

	if n == 0 {
		return nil, nil
	}
	if n > maxPoints {
		return nil, fmt.Errorf("mesh worker sent %d points", n)
	}

	raw := make([]float32, 3*n)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, fmt.Errorf("truncated mesh: %w", err)
	}
	pts := make([]types.Point, n)
	for i := range pts {
		x, y, z := raw[3*i], raw[3*i+1], raw[3*i+2]
		if isBad(x) || isBad(y) || isBad(z) {
			return nil, fmt.Errorf("mesh point %d is not finite", i)
		}
		pts[i] = types.Point{X: float64(x), Y: float64(y), Z: float64(z)}
	}
	return &types.Mesh{Points: pts}, nil
}

func isBad(f float32) bool {
	return math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)
}

// Logs returns whatever the interpreter has written to stderr.
func (w *MeshWorker) Logs() string {
	if w.Cmd == nil || w.Cmd.Stderr == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}

func (w *MeshWorker) stop() {
	if w.Stdin != nil {
		w.Stdin.Close()
	}
	if w.DataPipe != nil {
		w.DataPipe.Close()
	}
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Wait()
	}
	w.Stdin, w.DataPipe, w.Cmd = nil, nil, nil
}

// Close ends the interpreter. Closing stdin lets the script exit on EOF.
func (w *MeshWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stop()
	return nil
}
