package types

import (
	"fmt"
	"image"
)

// Point is a single normalized landmark coordinate. X and Y are in [0,1]
// relative to the frame the mesh was computed from.
type Point struct {
	X, Y, Z float64
}

// Mesh is a dense facial landmark set using the 468/478-point face mesh topology.
type Mesh struct {
	Points []Point
}

// Len reports the number of landmarks. A nil mesh has none.
func (m *Mesh) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Points)
}

// Region is one detected face in full-resolution frame coordinates.
type Region struct {
	Box   image.Rectangle
	Score float32
	// Five-point landmarks as reported by the detector:
	// right eye, left eye, nose tip, right mouth corner, left mouth corner.
	Landmarks [5]image.Point
}

// Area is the box area in pixels.
func (r Region) Area() int {
	return r.Box.Dx() * r.Box.Dy()
}

// Largest returns the index of the biggest region, or -1 for an empty slice.
func Largest(regions []Region) int {
	best, bestArea := -1, -1
	for i, r := range regions {
		if a := r.Area(); a > bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

// Embedding is a face descriptor vector.
type Embedding []float32

// GalleryEntry is one known face loaded at startup.
type GalleryEntry struct {
	ID        int
	Name      string
	Embedding Embedding
}

// VerdictKind is the tri-state of an identity verdict.
type VerdictKind int

const (
	VerdictUnset VerdictKind = iota
	VerdictUnknown
	VerdictIdentified
)

// Verdict is the identifier's conclusion about the face in view.
type Verdict struct {
	Kind     VerdictKind
	Name     string
	Distance float64
}

var (
	Unset   = Verdict{Kind: VerdictUnset}
	Unknown = Verdict{Kind: VerdictUnknown}
)

// Identified builds a positive verdict.
func Identified(name string, distance float64) Verdict {
	return Verdict{Kind: VerdictIdentified, Name: name, Distance: distance}
}

// IsIdentified reports whether the verdict names a known person.
func (v Verdict) IsIdentified() bool {
	return v.Kind == VerdictIdentified
}

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictUnknown:
		return "unknown"
	case VerdictIdentified:
		return fmt.Sprintf("identified(%s)", v.Name)
	default:
		return "unset"
	}
}
