package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/warden/internal/backend"
	"github.com/andresmejia3/warden/internal/config"
	"github.com/andresmejia3/warden/internal/dlibface"
	"github.com/andresmejia3/warden/internal/gallery"
	"github.com/andresmejia3/warden/internal/liveness"
	"github.com/andresmejia3/warden/internal/pipeline"
	"github.com/andresmejia3/warden/internal/render"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/vision"
)

// Embedding model names stored alongside every identity. A gallery only
// ever holds vectors from one model.
const (
	modelDlib  = "dlib-resnet-128"
	modelSFace = "sface-128"
)

func embeddingModel(cfg *config.Config) string {
	if strings.EqualFold(cfg.Embedder, "sface") {
		return modelSFace
	}
	return modelDlib
}

// openEmbedder loads the configured embedding backend.
func openEmbedder(cfg *config.Config) (pipeline.Embedder, io.Closer, error) {
	switch strings.ToLower(cfg.Embedder) {
	case "sface":
		e, err := vision.NewSFaceEmbedder(cfg.SFaceModel)
		if err != nil {
			return nil, nil, err
		}
		return e, e, nil
	case "dlib":
		e, err := dlibface.New(cfg.DlibModelDir)
		if err != nil {
			return nil, nil, err
		}
		return e, e, nil
	}
	return nil, nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	s := pipeline.DefaultSettings()
	s.MeshScale = cfg.MeshScale
	s.DetectScale = cfg.DetectScale
	s.LumaThreshold = cfg.DetectLumaThreshold
	s.DetectInterval = cfg.DetectInterval
	s.IdentifyInterval = cfg.IdentifyInterval
	s.CodeEveryN = cfg.CodeEveryN
	s.ProcessingTimeout = cfg.ProcessingTimeout
	return s
}

func sessionSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		Thresholds: liveness.Thresholds{
			GazeLeft:       cfg.GazeLeft,
			GazeRight:      cfg.GazeRight,
			MouthOpen:      cfg.MouthOpen,
			EARClosed:      cfg.EARClosed,
			EAROpen:        cfg.EAROpen,
			BlinksRequired: cfg.BlinksRequired,
		},
		ChallengeSteps:     cfg.ChallengeSteps,
		MissBuffer:         cfg.MeshMissBuffer,
		ChallengeCountdown: cfg.ChallengeCountdown,
		ChallengeTimeout:   cfg.ChallengeTimeout,
		SessionTimeout:     cfg.SessionTimeout,
		ProcessingTimeout:  cfg.ProcessingTimeout,
		SuccessDisplay:     cfg.SuccessDisplay,
		ResetDisplay:       cfg.ResetDisplay,
	}
}

func backendConfig(cfg *config.Config) backend.Config {
	b := backend.DefaultConfig()
	b.BaseURL = strings.TrimRight(cfg.BackendURL, "/")
	b.Timeout = cfg.BackendTimeout
	b.AppType = cfg.AppType
	b.LookupPath = cfg.LookupPath
	b.CheckoutPath = cfg.CheckoutPath
	b.CheckinPath = cfg.CheckinPath
	b.CheckoutStatuses = cfg.CheckoutStatuses
	b.CheckinStatuses = cfg.CheckinStatuses
	return b
}

func matcher(cfg *config.Config) (gallery.Matcher, error) {
	metric, err := gallery.ParseMetric(cfg.MatchMetric)
	if err != nil {
		return gallery.Matcher{}, err
	}
	return gallery.Matcher{Metric: metric, Tolerance: cfg.MatchTolerance}, nil
}

// frameEncoder picks the screen overlay. native avoids OpenCV drawing when the
// build's OpenCV lacks the image codecs or fonts.
func frameEncoder(cfg *config.Config) render.Encoder {
	if strings.EqualFold(cfg.RenderEncoder, "native") {
		return render.JPEGEncoder{Quality: cfg.RenderQuality}
	}
	return vision.NewAnnotator(cfg.RenderQuality)
}
