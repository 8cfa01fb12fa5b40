package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENV" default:"development"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:"postgres://localhost:5432/warden"`

	// Camera
	CameraDevice  string        `envconfig:"CAMERA_DEVICE" default:"0"`
	CameraWidth   int           `envconfig:"CAMERA_WIDTH" default:"1280"`
	CameraHeight  int           `envconfig:"CAMERA_HEIGHT" default:"720"`
	FrameInterval time.Duration `envconfig:"FRAME_INTERVAL" default:"33ms"`

	// Models
	DetectorModel  string  `envconfig:"DETECTOR_MODEL" default:"models/face_detection_yunet_2023mar.onnx"`
	DetectorScore  float64 `envconfig:"DETECTOR_SCORE" default:"0.7"`
	Embedder       string  `envconfig:"EMBEDDER" default:"dlib"`
	DlibModelDir   string  `envconfig:"DLIB_MODEL_DIR" default:"models/dlib"`
	SFaceModel     string  `envconfig:"SFACE_MODEL" default:"models/face_recognition_sface_2021dec.onnx"`
	MeshPython     string  `envconfig:"MESH_PYTHON" default:"python3"`
	MeshScript     string  `envconfig:"MESH_SCRIPT" default:"python/mesh_worker.py"`
	MeshScale      float64 `envconfig:"MESH_SCALE" default:"0.5"`
	MeshMissBuffer int     `envconfig:"MESH_MISS_BUFFER" default:"4"`

	// Detection and identification cadence
	DetectScale         float64       `envconfig:"DETECT_SCALE" default:"0.2"`
	DetectInterval      time.Duration `envconfig:"DETECT_INTERVAL" default:"400ms"`
	DetectLumaThreshold float64       `envconfig:"DETECT_LUMA_THRESHOLD" default:"80"`
	IdentifyInterval    time.Duration `envconfig:"IDENTIFY_INTERVAL" default:"1300ms"`
	MatchMetric         string        `envconfig:"MATCH_METRIC" default:"euclidean"`
	MatchTolerance      float64       `envconfig:"MATCH_TOLERANCE" default:"0.5"`
	CodeEveryN          int           `envconfig:"CODE_EVERY_N" default:"5"`

	// Liveness thresholds
	GazeLeft       float64 `envconfig:"GAZE_LEFT" default:"0.35"`
	GazeRight      float64 `envconfig:"GAZE_RIGHT" default:"0.65"`
	MouthOpen      float64 `envconfig:"MOUTH_OPEN" default:"0.05"`
	EARClosed      float64 `envconfig:"EAR_CLOSED" default:"0.20"`
	EAROpen        float64 `envconfig:"EAR_OPEN" default:"0.25"`
	BlinksRequired int     `envconfig:"BLINKS_REQUIRED" default:"2"`

	// Session timing
	ChallengeSteps     int           `envconfig:"CHALLENGE_STEPS" default:"1"`
	ChallengeCountdown time.Duration `envconfig:"CHALLENGE_COUNTDOWN" default:"2500ms"`
	ChallengeTimeout   time.Duration `envconfig:"CHALLENGE_TIMEOUT" default:"12s"`
	SessionTimeout     time.Duration `envconfig:"SESSION_TIMEOUT" default:"45s"`
	ProcessingTimeout  time.Duration `envconfig:"PROCESSING_TIMEOUT" default:"20s"`
	SuccessDisplay     time.Duration `envconfig:"SUCCESS_DISPLAY" default:"5s"`
	ResetDisplay       time.Duration `envconfig:"RESET_DISPLAY" default:"2500ms"`

	// Backend
	BackendURL       string        `envconfig:"BACKEND_URL" default:"http://localhost:5000"`
	BackendTimeout   time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
	LookupPath       string        `envconfig:"BACKEND_LOOKUP_PATH" default:"/api/Borrowing/GetScanDataByQr/{code}"`
	CheckoutPath     string        `envconfig:"BACKEND_CHECKOUT_PATH" default:"/api/Borrowing/VerifyPeminjaman/{id}"`
	CheckinPath      string        `envconfig:"BACKEND_CHECKIN_PATH" default:"/api/Borrowing/VerifyPengembalian/{id}"`
	CheckoutStatuses []string      `envconfig:"BACKEND_CHECKOUT_STATUSES" default:"Disetujui,Approved,Reserved"`
	CheckinStatuses  []string      `envconfig:"BACKEND_CHECKIN_STATUSES" default:"Dipinjam,Borrowed,InPossession"`
	AppType          string        `envconfig:"BACKEND_APP_TYPE" default:"Desktop"`
	AppID            string        `envconfig:"BACKEND_APP_ID" default:"2"`
	KioskName        string        `envconfig:"KIOSK_NAME"`

	// Surfaces
	RenderAddr    string        `envconfig:"RENDER_ADDR" default:":8090"`
	RenderEncoder string        `envconfig:"RENDER_ENCODER" default:"opencv"`
	RenderQuality int           `envconfig:"RENDER_QUALITY" default:"80"`
	LockerPort    string        `envconfig:"LOCKER_PORT"`
	LockerBaud    int           `envconfig:"LOCKER_BAUD" default:"9600"`
	LockerPulse   time.Duration `envconfig:"LOCKER_PULSE" default:"1500ms"`
	LockerChannel int           `envconfig:"LOCKER_CHANNEL" default:"1"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.FrameInterval <= 0 {
		errs = append(errs, errors.New("FRAME_INTERVAL must be positive"))
	}
	if c.DetectScale <= 0 || c.DetectScale > 1 {
		errs = append(errs, fmt.Errorf("DETECT_SCALE must be in (0,1], got %v", c.DetectScale))
	}
	if c.MeshScale <= 0 || c.MeshScale > 1 {
		errs = append(errs, fmt.Errorf("MESH_SCALE must be in (0,1], got %v", c.MeshScale))
	}
	if c.MeshMissBuffer < 1 {
		errs = append(errs, errors.New("MESH_MISS_BUFFER must be at least 1"))
	}
	if c.CodeEveryN < 1 {
		errs = append(errs, errors.New("CODE_EVERY_N must be at least 1"))
	}
	if c.GazeLeft >= c.GazeRight {
		errs = append(errs, fmt.Errorf("GAZE_LEFT (%v) must be below GAZE_RIGHT (%v)", c.GazeLeft, c.GazeRight))
	}
	if c.EARClosed >= c.EAROpen {
		errs = append(errs, fmt.Errorf("EAR_CLOSED (%v) must be below EAR_OPEN (%v)", c.EARClosed, c.EAROpen))
	}
	if c.BlinksRequired < 1 {
		errs = append(errs, errors.New("BLINKS_REQUIRED must be at least 1"))
	}
	if c.ChallengeSteps < 1 || c.ChallengeSteps > 4 {
		errs = append(errs, fmt.Errorf("CHALLENGE_STEPS must be between 1 and 4, got %d", c.ChallengeSteps))
	}
	switch strings.ToLower(c.MatchMetric) {
	case "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("MATCH_METRIC must be euclidean or cosine, got %q", c.MatchMetric))
	}
	switch strings.ToLower(c.Embedder) {
	case "dlib", "sface":
	default:
		errs = append(errs, fmt.Errorf("EMBEDDER must be dlib or sface, got %q", c.Embedder))
	}
	switch strings.ToLower(c.RenderEncoder) {
	case "opencv", "native":
	default:
		errs = append(errs, fmt.Errorf("RENDER_ENCODER must be opencv or native, got %q", c.RenderEncoder))
	}
	if c.RenderQuality < 1 || c.RenderQuality > 100 {
		errs = append(errs, fmt.Errorf("RENDER_QUALITY must be between 1 and 100, got %d", c.RenderQuality))
	}
	if c.MatchTolerance <= 0 {
		errs = append(errs, errors.New("MATCH_TOLERANCE must be positive"))
	}
	if len(c.CheckoutStatuses) == 0 && len(c.CheckinStatuses) == 0 {
		errs = append(errs, errors.New("at least one of BACKEND_CHECKOUT_STATUSES or BACKEND_CHECKIN_STATUSES is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
