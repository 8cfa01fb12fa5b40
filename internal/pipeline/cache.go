package pipeline

import (
	"sync"
	"time"

	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/types"
)

// Detection is one detector pass. Regions are in the coordinates of Frame.
type Detection struct {
	Frame      frame.Frame
	Regions    []types.Region
	ComputedAt time.Time
	Version    uint64
}

// DetectionCache is the single hand-off point between the detector and the
// identifier. Regions and the frame they came from are stored and read as
// one value so they can never be paired with another frame.
type DetectionCache struct {
	mu      sync.Mutex
	latest  Detection
	version uint64
}

// Store replaces the cached detection and returns its version.
func (c *DetectionCache) Store(f frame.Frame, regions []types.Region, at time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.latest = Detection{
		Frame:      f,
		Regions:    append([]types.Region(nil), regions...),
		ComputedAt: at,
		Version:    c.version,
	}
	return c.version
}

// Snapshot copies the latest detection out. ok is false when it holds no regions.
func (c *DetectionCache) Snapshot() (d Detection, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d = c.latest
	d.Regions = append([]types.Region(nil), c.latest.Regions...)
	return d, len(d.Regions) > 0
}

func (c *DetectionCache) HasFaces() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.latest.Regions) > 0
}

// Regions returns a copy of the latest regions for overlays.
func (c *DetectionCache) Regions() []types.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Region(nil), c.latest.Regions...)
}
