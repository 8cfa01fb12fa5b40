package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/warden/internal/auth"
	"github.com/andresmejia3/warden/internal/config"
	"github.com/andresmejia3/warden/internal/enroll"
	"github.com/andresmejia3/warden/internal/gallery"
	"github.com/andresmejia3/warden/internal/render"
	"github.com/andresmejia3/warden/internal/vision"
)

func loadConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DETECT_SCALE":             "0.25",
		"CODE_EVERY_N":             "3",
		"CHALLENGE_STEPS":          "2",
		"BLINKS_REQUIRED":          "3",
		"MESH_MISS_BUFFER":         "6",
		"PROCESSING_TIMEOUT":       "7s",
		"BACKEND_URL":              "http://backend.local:5000/",
		"BACKEND_TIMEOUT":          "3s",
		"BACKEND_CHECKIN_STATUSES": "Borrowed",
	})

	p := pipelineSettings(cfg)
	assert.Equal(t, 0.25, p.DetectScale)
	assert.Equal(t, 3, p.CodeEveryN)
	assert.Equal(t, 7*time.Second, p.ProcessingTimeout)
	assert.Equal(t, 400*time.Millisecond, p.DetectInterval)

	s := sessionSettings(cfg)
	assert.Equal(t, 2, s.ChallengeSteps)
	assert.Equal(t, 6, s.MissBuffer)
	assert.Equal(t, 3, s.Thresholds.BlinksRequired)
	assert.Equal(t, 0.20, s.Thresholds.EARClosed)
	assert.Equal(t, 7*time.Second, s.ProcessingTimeout)

	b := backendConfig(cfg)
	assert.Equal(t, "http://backend.local:5000", b.BaseURL)
	assert.Equal(t, 3*time.Second, b.Timeout)
	assert.Equal(t, []string{"Borrowed"}, b.CheckinStatuses)
	assert.Equal(t, "/api/Auth/login", b.LoginPath)
}

func TestEmbeddingModelAndMatcher(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"EMBEDDER": "SFace", "MATCH_METRIC": "cosine", "MATCH_TOLERANCE": "0.36"})
	assert.Equal(t, modelSFace, embeddingModel(cfg))

	m, err := matcher(cfg)
	require.NoError(t, err)
	assert.Equal(t, gallery.Cosine, m.Metric)
	assert.Equal(t, 0.36, m.Tolerance)

	cfg.Embedder = "dlib"
	assert.Equal(t, modelDlib, embeddingModel(cfg))

	cfg.MatchMetric = "manhattan"
	_, err = matcher(cfg)
	assert.Error(t, err)
}

func TestFrameEncoder(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"RENDER_ENCODER": "native", "RENDER_QUALITY": "65"})
	assert.Equal(t, render.JPEGEncoder{Quality: 65}, frameEncoder(cfg))

	cfg.RenderEncoder = "opencv"
	a, ok := frameEncoder(cfg).(*vision.Annotator)
	require.True(t, ok)
	assert.Equal(t, 65, a.Quality)
}

func TestSummarize(t *testing.T) {
	results := []enroll.Result{
		{Name: "alice", ID: 1},
		{Name: "bob", Err: enroll.ErrSkipped},
		{Name: "carol", Err: enroll.ErrNoFace},
		{Name: "dave", ID: 2},
		{Name: "erin", Err: errors.New("corrupt image")},
	}
	enrolled, skipped, failed := summarize(results)
	assert.Equal(t, 2, enrolled)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 2, failed)
}

func TestValidateEnrollFlags(t *testing.T) {
	tests := []struct {
		name    string
		assets  string
		file    string
		nameArg string
		wantErr bool
	}{
		{name: "assets folder", assets: "assets"},
		{name: "single file with name", file: "a.jpg", nameArg: "alice"},
		{name: "name without file", assets: "assets", nameArg: "alice", wantErr: true},
		{name: "nothing to enroll", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := enrollOpts
			t.Cleanup(func() { enrollOpts = saved })

			enrollOpts.Assets, enrollOpts.File, enrollOpts.Name = tt.assets, tt.file, tt.nameArg
			err := validateEnrollFlags()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseIdentityID(t *testing.T) {
	id, err := parseIdentityID("12")
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseIdentityID(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(&out, bufio.NewReader(strings.NewReader(tt.input)), "Drop?")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Drop? [y/N]: ", out.String())
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "localhost:8090", displayAddr(":8090"))
	assert.Equal(t, "0.0.0.0:80", displayAddr("0.0.0.0:80"))

	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "42", orDash("42"))

	assert.Equal(t, "op", displayName(auth.Credentials{Username: "op"}))
	assert.Equal(t, "Lab Operator (op)", displayName(auth.Credentials{Username: "op", DisplayName: "Lab Operator"}))

	var out bytes.Buffer
	got := prompt(&out, bufio.NewReader(strings.NewReader("  operator \n")), "Username: ")
	assert.Equal(t, "operator", got)
	assert.Equal(t, "Username: ", out.String())
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "enroll", "list", "label", "forget", "history", "reset", "login", "logout", "whoami", "ports"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}
