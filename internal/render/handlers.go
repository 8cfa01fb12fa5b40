package render

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/andresmejia3/warden/internal/pipeline"
)

// Status is the JSON body of GET /status.
type Status struct {
	Phase        string    `json:"phase"`
	Caption      string    `json:"caption"`
	SessionID    string    `json:"session_id,omitempty"`
	Generation   uint64    `json:"generation"`
	Verdict      string    `json:"verdict"`
	CodeCaptured bool      `json:"code_captured"`
	Gesture      string    `json:"gesture,omitempty"`
	Step         int       `json:"step"`
	Steps        int       `json:"steps"`
	Outcome      *Outcome  `json:"outcome,omitempty"`
	CameraDown   bool      `json:"camera_down"`
	CameraError  string    `json:"camera_error,omitempty"`
	Faces        int       `json:"faces"`
	At           time.Time `json:"at"`
}

type Outcome struct {
	TransactionID string   `json:"transaction_id"`
	Direction     string   `json:"direction"`
	Borrower      string   `json:"borrower"`
	Items         []string `json:"items"`
}

func statusOf(s pipeline.Snapshot) Status {
	st := Status{
		Phase:        s.Phase.String(),
		Caption:      s.Caption,
		Generation:   s.Generation,
		Verdict:      s.Verdict.String(),
		CodeCaptured: s.CodeCaptured,
		Gesture:      s.Gesture,
		Step:         s.Step,
		Steps:        s.Steps,
		CameraDown:   s.CameraDown,
		CameraError:  s.CameraError,
		Faces:        len(s.Regions),
		At:           s.At,
	}
	if s.SessionID != uuid.Nil {
		st.SessionID = s.SessionID.String()
	}
	if o := s.Outcome; o != nil {
		st.Outcome = &Outcome{TransactionID: o.TransactionID, Direction: o.Direction, Borrower: o.Borrower, Items: o.Items}
	}
	return st
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	snap, ok := s.snapshot()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no frame yet"})
	}
	img, err := s.enc.Encode(snap)
	if err != nil {
		s.log.Warn("frame encode failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "encode failed"})
	}
	c.Set(fiber.HeaderContentType, "image/jpeg")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(img)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	snap, ok := s.snapshot()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not started"})
	}
	return c.JSON(statusOf(snap))
}

func (s *Server) handleRetry(c *fiber.Ctx) error {
	if s.retry == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "retry not available"})
	}
	s.retry.RequestRetry()
	s.log.Info("camera retry requested", "remote", c.IP())
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "retrying"})
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(indexHTML)
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Warden</title>
<style>
body { margin: 0; background: #111; color: #eee; font-family: sans-serif; text-align: center; }
img { max-width: 100vw; max-height: 85vh; }
#caption { font-size: 2em; margin: .4em; }
#retry { display: none; font-size: 1.5em; padding: .4em 1.2em; }
</style>
</head>
<body>
<img id="frame" src="/frame.jpg">
<div id="caption"></div>
<button id="retry" onclick="fetch('/camera/retry', {method: 'POST'})">Retry camera</button>
<script>
const frame = document.getElementById('frame');
setInterval(() => { frame.src = '/frame.jpg?t=' + Date.now(); }, 100);
setInterval(async () => {
  try {
    const s = await (await fetch('/status')).json();
    document.getElementById('caption').textContent = s.caption || '';
    document.getElementById('retry').style.display = s.camera_down ? 'inline-block' : 'none';
  } catch (e) {}
}, 250);
</script>
</body>
</html>
`
