package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"
)

// ErrCameraUnavailable means the capture device could not be opened or stopped delivering frames.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Capturer is the raw camera device.
type Capturer interface {
	Open() error
	Read() (image.Image, error)
	Close() error
}

// Source hands out mirrored frames at a fixed pace regardless of the device's native rate.
type Source struct {
	dev      Capturer
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	open bool
	seq  uint64
	last time.Time
}

func NewSource(dev Capturer, interval time.Duration) *Source {
	return &Source{dev: dev, interval: interval, now: time.Now}
}

// Open (re)acquires the device. Calling it on an open source closes and reopens it.
func (s *Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		s.dev.Close()
		s.open = false
	}
	if err := s.dev.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	s.open = true
	return nil
}

// Available reports whether the device is currently open.
func (s *Source) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Next blocks until the pacing delay has elapsed, then reads and mirrors one frame.
func (s *Source) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return Frame{}, ErrCameraUnavailable
	}

	if !s.last.IsZero() {
		if wait := s.interval - s.now().Sub(s.last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return Frame{}, ctx.Err()
			case <-t.C:
			}
		}
	}
	s.last = s.now()

	img, err := s.dev.Read()
	if err == nil && (img == nil || img.Bounds().Empty()) {
		err = errors.New("empty frame")
	}
	if err != nil {
		s.dev.Close()
		s.open = false
		return Frame{}, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	s.seq++
	return Frame{
		Seq:        s.seq,
		Image:      Mirror(ToRGBA(img)),
		CapturedAt: s.last,
	}, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	return s.dev.Close()
}
