// Package liveness turns a facial landmark mesh into the set of gestures the
// person in front of the kiosk is currently performing.
package liveness

import (
	"math"
	"strings"

	"github.com/andresmejia3/warden/internal/types"
)

// Mesh indices (468-point face mesh topology).
const (
	NoseTip       = 4
	FaceLeftEdge  = 234
	FaceRightEdge = 454
	UpperInnerLip = 13
	LowerInnerLip = 14
	Forehead      = 10
	Chin          = 152

	// MinMeshPoints is the smallest mesh every index above fits in.
	MinMeshPoints = 468
)

// Eye contours ordered p0..p5: outer corner, two upper lid points, inner
// corner, two lower lid points.
var (
	LeftEye  = [6]int{362, 385, 387, 263, 373, 380}
	RightEye = [6]int{33, 160, 158, 133, 153, 144}
)

type Gesture int

const (
	LookLeft Gesture = iota + 1
	LookRight
	Blink
	OpenMouth
)

// Pool is the fixed set challenges are drawn from.
var Pool = []Gesture{LookLeft, LookRight, Blink, OpenMouth}

func (g Gesture) String() string {
	switch g {
	case LookLeft:
		return "look_left"
	case LookRight:
		return "look_right"
	case Blink:
		return "blink"
	case OpenMouth:
		return "open_mouth"
	default:
		return "none"
	}
}

// Instruction is the caption shown to the user while g is the active challenge.
func (g Gesture) Instruction() string {
	switch g {
	case LookLeft:
		return "Turn your head to the left"
	case LookRight:
		return "Turn your head to the right"
	case Blink:
		return "Blink twice"
	case OpenMouth:
		return "Open your mouth"
	default:
		return ""
	}
}

// Set is a small bitset of gestures.
type Set uint8

func (s Set) Has(g Gesture) bool { return s&(1<<uint(g)) != 0 }

func (s Set) With(g Gesture) Set { return s | 1<<uint(g) }

func (s Set) String() string {
	var names []string
	for _, g := range Pool {
		if s.Has(g) {
			names = append(names, g.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

type Thresholds struct {
	GazeLeft       float64
	GazeRight      float64
	MouthOpen      float64
	EARClosed      float64
	EAROpen        float64
	BlinksRequired int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		GazeLeft:       0.35,
		GazeRight:      0.65,
		MouthOpen:      0.05,
		EARClosed:      0.20,
		EAROpen:        0.25,
		BlinksRequired: 2,
	}
}

// Observation is what a single mesh shows. Blink is never part of Gestures;
// it needs history and is tracked by BlinkCounter.
type Observation struct {
	Gestures  Set
	Gaze      float64
	GazeValid bool
	Mouth     float64
	EAR       float64
}

// Evaluate measures one mesh against th. Meshes smaller than MinMeshPoints yield an empty observation.
func Evaluate(mesh *types.Mesh, th Thresholds) Observation {
	var obs Observation
	if mesh.Len() < MinMeshPoints {
		return obs
	}
	pts := mesh.Points

	if ratio, ok := GazeRatio(pts); ok {
		obs.Gaze, obs.GazeValid = ratio, true
		switch {
		case ratio < th.GazeLeft:
			obs.Gestures = obs.Gestures.With(LookLeft)
		case ratio > th.GazeRight:
			obs.Gestures = obs.Gestures.With(LookRight)
		}
	}

	if m, ok := MouthRatio(pts); ok {
		obs.Mouth = m
		if m > th.MouthOpen {
			obs.Gestures = obs.Gestures.With(OpenMouth)
		}
	}

	obs.EAR = (EyeAspectRatio(pts, LeftEye) + EyeAspectRatio(pts, RightEye)) / 2
	return obs
}

// GazeRatio locates the nose between the two face edges. ok is false for a zero-width face.
func GazeRatio(pts []types.Point) (ratio float64, ok bool) {
	left, right := pts[FaceLeftEdge].X, pts[FaceRightEdge].X
	width := right - left
	if width == 0 {
		return 0, false
	}
	return (pts[NoseTip].X - left) / width, true
}

// MouthRatio is the inner-lip gap as a fraction of face height. ok is false for a zero-height face.
func MouthRatio(pts []types.Point) (ratio float64, ok bool) {
	height := math.Abs(pts[Chin].Y - pts[Forehead].Y)
	if height == 0 {
		return 0, false
	}
	return math.Abs(pts[LowerInnerLip].Y-pts[UpperInnerLip].Y) / height, true
}

// EyeAspectRatio is (|p1-p5| + |p2-p4|) / (2|p0-p3|), or 0 for a degenerate eye.
func EyeAspectRatio(pts []types.Point, eye [6]int) float64 {
	p := func(i int) types.Point { return pts[eye[i]] }
	horizontal := dist(p(0), p(3))
	if horizontal == 0 {
		return 0
	}
	return (dist(p(1), p(5)) + dist(p(2), p(4))) / (2 * horizontal)
}

func dist(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
