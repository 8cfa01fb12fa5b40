// Package vision holds the OpenCV-backed engines: camera capture, YuNet face
// detection, SFace embeddings, QR decoding and the annotated JPEG encoder.
package vision

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

var errNoFrame = errors.New("camera returned no frame")

// Camera reads from a V4L2 index or a stream URL. It implements frame.Capturer.
type Camera struct {
	device string
	width  int
	height int

	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

func NewCamera(device string, width, height int) *Camera {
	return &Camera{device: device, width: width, height: height, mat: gocv.NewMat()}
}

func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var src interface{} = c.device
	if idx, err := strconv.Atoi(c.device); err == nil {
		src = idx
	}
	vc, err := gocv.OpenVideoCapture(src)
	if err != nil {
		return fmt.Errorf("open camera %s: %w", c.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("open camera %s: device not opened", c.device)
	}
	if c.width > 0 && c.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}
	c.cap = vc
	return nil
}

func (c *Camera) Read() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cap == nil {
		return nil, errNoFrame
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errNoFrame
	}
	return c.mat.ToImage()
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	c.cap = nil
	return err
}

// Release frees the reusable frame buffer. The Camera cannot be used afterwards.
func (c *Camera) Release() {
	c.Close()
	c.mat.Close()
}

// toMat converts an RGBA image into a BGR Mat owned by the caller.
func toMat(img *image.RGBA) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image: %w", err)
	}
	return mat, nil
}
