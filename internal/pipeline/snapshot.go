package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/types"
)

// Snapshot is everything the renderer shows for one tick.
type Snapshot struct {
	Frame   frame.Frame
	Regions []types.Region
	At      time.Time

	Phase        session.Phase
	Caption      string
	SessionID    uuid.UUID
	Generation   uint64
	Verdict      types.Verdict
	CodeCaptured bool
	Gesture      string
	Step         int
	Steps        int
	Outcome      *session.Outcome

	CameraDown  bool
	CameraError string
}

func (p *Pipeline) snapshot(f frame.Frame, now time.Time) Snapshot {
	st := p.machine.State()
	s := Snapshot{
		Frame:        f,
		Regions:      p.cache.Regions(),
		At:           now,
		Phase:        st.Phase,
		Caption:      p.machine.Caption(now),
		SessionID:    st.ID,
		Generation:   st.Generation,
		Verdict:      st.Verdict,
		CodeCaptured: st.Code != "",
		Step:         st.Challenge.Step,
		Steps:        len(st.Challenge.Sequence),
		Outcome:      st.Outcome,
	}
	if g := st.Challenge.Active(); g != 0 {
		s.Gesture = g.String()
	}
	return s
}
