// Package gallery holds the known faces the identifier compares against.
package gallery

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/andresmejia3/warden/internal/types"
)

type Metric int

const (
	Euclidean Metric = iota
	Cosine
)

func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "euclidean", "l2":
		return Euclidean, nil
	case "cosine":
		return Cosine, nil
	}
	return 0, fmt.Errorf("unknown match metric %q", s)
}

func (m Metric) String() string {
	if m == Cosine {
		return "cosine"
	}
	return "euclidean"
}

// Distance between two equal-length vectors. Mismatched lengths are infinitely far apart.
func (m Metric) Distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	if m == Cosine {
		return cosineDist(a, b)
	}
	return floats.Distance(a, b, 2)
}

// cosineDist returns 1 - cos(a,b). A zero vector is maximally distant.
func cosineDist(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1.0
	}
	return 1.0 - floats.Dot(a, b)/(na*nb)
}

// Gallery is immutable after New and safe for concurrent readers.
type Gallery struct {
	entries []types.GalleryEntry
	vecs    [][]float64
}

func New(entries []types.GalleryEntry) *Gallery {
	g := &Gallery{
		entries: make([]types.GalleryEntry, len(entries)),
		vecs:    make([][]float64, len(entries)),
	}
	copy(g.entries, entries)
	for i, e := range entries {
		g.vecs[i] = Float64s(e.Embedding)
	}
	return g
}

func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

func (g *Gallery) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.Name
	}
	return names
}

// Matcher picks the nearest gallery entry and accepts it within Tolerance.
type Matcher struct {
	Metric    Metric
	Tolerance float64
}

// Match returns Identified for the closest entry at or under the tolerance, Unknown otherwise.
func (m Matcher) Match(g *Gallery, e types.Embedding) types.Verdict {
	if g.Len() == 0 || len(e) == 0 {
		return types.Unknown
	}
	query := Float64s(e)

	best, bestDist := -1, math.Inf(1)
	for i, v := range g.vecs {
		if d := m.Metric.Distance(query, v); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 || bestDist > m.Tolerance {
		return types.Unknown
	}
	return types.Identified(g.entries[best].Name, bestDist)
}

func Float64s(e types.Embedding) []float64 {
	out := make([]float64, len(e))
	for i, v := range e {
		out[i] = float64(v)
	}
	return out
}
