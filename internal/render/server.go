// Package render serves the kiosk screen over HTTP: the annotated camera
// frame, the session status and the camera-retry button.
package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/andresmejia3/warden/internal/pipeline"
)

// Encoder turns a snapshot into a JPEG.
type Encoder interface {
	Encode(s pipeline.Snapshot) ([]byte, error)
}

// Retrier receives camera-retry requests. *pipeline.Pipeline implements it.
type Retrier interface {
	RequestRetry()
}

// RetryFunc adapts a plain function to Retrier.
type RetryFunc func()

func (f RetryFunc) RequestRetry() { f() }

// Server implements pipeline.Renderer. Render only stores the snapshot;
// encoding happens when a client asks for a frame.
type Server struct {
	app   *fiber.App
	enc   Encoder
	retry Retrier
	log   *slog.Logger

	mu     sync.RWMutex
	latest pipeline.Snapshot
	ready  bool
}

func New(enc Encoder, retry Retrier, log *slog.Logger) *Server {
	if enc == nil {
		enc = JPEGEncoder{Quality: 80}
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           5 * time.Second,
			WriteTimeout:          5 * time.Second,
		}),
		enc:   enc,
		retry: retry,
		log:   log,
	}
	s.routes()
	return s
}

var _ pipeline.Renderer = (*Server)(nil)

func (s *Server) Render(snap pipeline.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.ready = true
	s.mu.Unlock()
}

func (s *Server) snapshot() (pipeline.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ready
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.Info("render server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Get("/", s.handleIndex)
	s.app.Get("/frame.jpg", s.handleFrame)
	s.app.Get("/status", s.handleStatus)
	s.app.Post("/camera/retry", s.handleRetry)
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
