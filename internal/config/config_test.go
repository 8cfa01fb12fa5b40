package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name:    "uses defaults when nothing is set",
			envVars: map[string]string{"ENV": "development"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 33*time.Millisecond, c.FrameInterval)
				assert.Equal(t, 400*time.Millisecond, c.DetectInterval)
				assert.Equal(t, 1300*time.Millisecond, c.IdentifyInterval)
				assert.Equal(t, 4, c.MeshMissBuffer)
				assert.Equal(t, 5, c.CodeEveryN)
				assert.InDelta(t, 0.35, c.GazeLeft, 1e-9)
				assert.InDelta(t, 0.65, c.GazeRight, 1e-9)
				assert.Equal(t, []string{"Disetujui", "Approved", "Reserved"}, c.CheckoutStatuses)
				assert.Equal(t, "opencv", c.RenderEncoder)
				assert.Equal(t, 80, c.RenderQuality)
				assert.True(t, c.IsDevelopment())
			},
		},
		{
			name: "overrides from environment",
			envVars: map[string]string{
				"ENV":                       "production",
				"DATABASE_URL":              "postgres://kiosk@db/warden",
				"MATCH_METRIC":              "cosine",
				"MATCH_TOLERANCE":           "0.36",
				"BACKEND_CHECKIN_STATUSES":  "OnLoan",
				"CHALLENGE_STEPS":           "3",
				"SESSION_TIMEOUT":           "1m",
				"BACKEND_CHECKOUT_STATUSES": "Booked,Ready",
			},
			check: func(t *testing.T, c *Config) {
				assert.True(t, c.IsProduction())
				assert.Equal(t, "postgres://kiosk@db/warden", c.DatabaseURL)
				assert.Equal(t, "cosine", c.MatchMetric)
				assert.InDelta(t, 0.36, c.MatchTolerance, 1e-9)
				assert.Equal(t, []string{"OnLoan"}, c.CheckinStatuses)
				assert.Equal(t, []string{"Booked", "Ready"}, c.CheckoutStatuses)
				assert.Equal(t, 3, c.ChallengeSteps)
				assert.Equal(t, time.Minute, c.SessionTimeout)
			},
		},
		{
			name:    "rejects unknown metric",
			envVars: map[string]string{"MATCH_METRIC": "manhattan"},
			wantErr: true,
		},
		{
			name:    "rejects inverted gaze thresholds",
			envVars: map[string]string{"GAZE_LEFT": "0.7", "GAZE_RIGHT": "0.3"},
			wantErr: true,
		},
		{
			name:    "rejects unknown render encoder",
			envVars: map[string]string{"RENDER_ENCODER": "webp"},
			wantErr: true,
		},
		{
			name:    "rejects out of range render quality",
			envVars: map[string]string{"RENDER_QUALITY": "0"},
			wantErr: true,
		},
		{
			name:    "rejects malformed duration",
			envVars: map[string]string{"DETECT_INTERVAL": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Config{
		FrameInterval:    0,
		DetectScale:      2,
		MeshScale:        0.5,
		MeshMissBuffer:   0,
		CodeEveryN:       1,
		GazeLeft:         0.35,
		GazeRight:        0.65,
		EARClosed:        0.2,
		EAROpen:          0.25,
		BlinksRequired:   2,
		ChallengeSteps:   1,
		MatchMetric:      "euclidean",
		Embedder:         "dlib",
		MatchTolerance:   0.5,
		CheckoutStatuses: []string{"Approved"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FRAME_INTERVAL")
	assert.Contains(t, err.Error(), "DETECT_SCALE")
	assert.Contains(t, err.Error(), "MESH_MISS_BUFFER")
}
