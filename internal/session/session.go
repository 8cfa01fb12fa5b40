// Package session owns the verification state machine. A Machine is not safe
// for concurrent use; the pipeline's driving loop is its only caller.
package session

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/andresmejia3/warden/internal/liveness"
	"github.com/andresmejia3/warden/internal/types"
)

type Phase int

const (
	Standby Phase = iota
	Locking
	ChallengePending
	Challenge
	ProcessingTransaction
	Success
	Reset
)

func (p Phase) String() string {
	switch p {
	case Standby:
		return "standby"
	case Locking:
		return "locking"
	case ChallengePending:
		return "challenge_pending"
	case Challenge:
		return "challenge"
	case ProcessingTransaction:
		return "processing"
	case Success:
		return "success"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// AcceptsCode reports whether a newly decoded code may be captured in p.
// Only Locking does: a code read with nobody in view would otherwise wait in
// Standby for whoever walks up next.
func (p Phase) AcceptsCode() bool {
	return p == Locking
}

// Active reports whether p belongs to a session that face loss or timeouts can abort.
func (p Phase) Active() bool {
	return p == Locking || p == ChallengePending || p == Challenge
}

// Action is what the caller must do after Advance.
type Action int

const (
	NoAction Action = iota
	StartTransaction
)

type Settings struct {
	Thresholds         liveness.Thresholds
	ChallengeSteps     int
	MissBuffer         int
	ChallengeCountdown time.Duration
	ChallengeTimeout   time.Duration
	SessionTimeout     time.Duration
	ProcessingTimeout  time.Duration
	SuccessDisplay     time.Duration
	ResetDisplay       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Thresholds:         liveness.DefaultThresholds(),
		ChallengeSteps:     1,
		MissBuffer:         4,
		ChallengeCountdown: 2500 * time.Millisecond,
		ChallengeTimeout:   12 * time.Second,
		SessionTimeout:     45 * time.Second,
		ProcessingTimeout:  20 * time.Second,
		SuccessDisplay:     5 * time.Second,
		ResetDisplay:       2500 * time.Millisecond,
	}
}

// ChallengeState tracks progress through the gesture sequence.
type ChallengeState struct {
	Sequence      []liveness.Gesture
	Step          int
	Blinks        liveness.BlinkCounter
	StepStartedAt time.Time
	Passed        bool
}

// Active is the gesture currently requested, or 0 when none is.
func (c ChallengeState) Active() liveness.Gesture {
	if c.Step < len(c.Sequence) {
		return c.Sequence[c.Step]
	}
	return 0
}

// Outcome is the confirmed transaction shown on the success screen.
type Outcome struct {
	TransactionID string
	Direction     string
	Borrower      string
	Items         []string
}

type State struct {
	ID             uuid.UUID
	Generation     uint64
	Phase          Phase
	PhaseEnteredAt time.Time
	StartedAt      time.Time

	Code       string
	Verdict    types.Verdict
	LockedName string
	Challenge  ChallengeState
	Fired      bool

	Mesh        *types.Mesh
	Misses      int
	Observation liveness.Observation

	Outcome     *Outcome
	ResetReason string
}

type Machine struct {
	cfg Settings
	rng *rand.Rand
	log *slog.Logger
	st  State
}

func New(cfg Settings, rng *rand.Rand, log *slog.Logger, now time.Time) *Machine {
	if cfg.ChallengeSteps < 1 {
		cfg.ChallengeSteps = 1
	}
	if cfg.ChallengeSteps > len(liveness.Pool) {
		cfg.ChallengeSteps = len(liveness.Pool)
	}
	if cfg.MissBuffer < 1 {
		cfg.MissBuffer = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		cfg: cfg,
		rng: rng,
		log: log,
		st:  State{Generation: 1, Phase: Standby, PhaseEnteredAt: now},
	}
}

// State returns a copy that shares no mutable slices with the machine.
func (m *Machine) State() State {
	s := m.st
	s.Challenge.Sequence = append([]liveness.Gesture(nil), m.st.Challenge.Sequence...)
	if m.st.Outcome != nil {
		o := *m.st.Outcome
		o.Items = append([]string(nil), o.Items...)
		s.Outcome = &o
	}
	return s
}

func (m *Machine) Generation() uint64 { return m.st.Generation }

func (m *Machine) Phase() Phase { return m.st.Phase }

// WantsCode reports whether the code reader should keep scanning.
func (m *Machine) WantsCode() bool {
	return m.st.Code == "" && m.st.Phase.AcceptsCode()
}

// ObserveMesh feeds one landmark tracker pass. A nil mesh is a miss.
func (m *Machine) ObserveMesh(now time.Time, mesh *types.Mesh) {
	if mesh == nil {
		m.st.Misses++
		if m.st.Misses < m.cfg.MissBuffer {
			return
		}
		m.st.Mesh = nil
		m.st.Observation = liveness.Observation{}
		if m.st.Phase.Active() {
			m.toStandby(now, "face lost")
		}
		return
	}

	m.st.Mesh = mesh
	m.st.Misses = 0

	switch m.st.Phase {
	case Standby:
		m.st.ID = uuid.New()
		m.st.StartedAt = now
		m.enter(now, Locking)
	case Challenge:
		m.evaluate(now, mesh)
	}
}

func (m *Machine) evaluate(now time.Time, mesh *types.Mesh) {
	th := m.cfg.Thresholds
	obs := liveness.Evaluate(mesh, th)
	m.st.Observation = obs

	ch := &m.st.Challenge
	active := ch.Active()
	if active == 0 || ch.Passed {
		return
	}
	if active == liveness.Blink {
		ch.Blinks.Observe(obs.EAR, th)
		if ch.Blinks.Satisfied(th) {
			obs.Gestures = obs.Gestures.With(liveness.Blink)
		}
	}
	if !obs.Gestures.Has(active) {
		return
	}

	m.log.Info("challenge step passed",
		"session", m.st.ID, "gesture", active.String(), "step", ch.Step+1, "of", len(ch.Sequence))
	ch.Step++
	ch.Blinks.Reset()
	ch.StepStartedAt = now
	if ch.Step >= len(ch.Sequence) {
		ch.Passed = true
	}
}

// ApplyVerdict records an identifier result computed under generation gen.
// It returns false when the result is stale and was dropped.
func (m *Machine) ApplyVerdict(now time.Time, gen uint64, v types.Verdict) bool {
	if gen != m.st.Generation {
		return false
	}
	m.st.Verdict = v

	locked := m.st.Phase == ChallengePending || m.st.Phase == Challenge
	if locked && v.IsIdentified() && v.Name != m.st.LockedName {
		m.reset(now, "identity changed")
	}
	return true
}

// ApplyCode captures the first non-empty code of the session. Later codes are ignored.
func (m *Machine) ApplyCode(gen uint64, code string) bool {
	if gen != m.st.Generation || code == "" || !m.WantsCode() {
		return false
	}
	m.st.Code = code
	m.log.Info("code captured", "session", m.st.ID, "phase", m.st.Phase.String())
	return true
}

// Advance runs the time-driven transitions. It returns StartTransaction at
// most once per session generation.
func (m *Machine) Advance(now time.Time) Action {
	elapsed := now.Sub(m.st.PhaseEnteredAt)

	if m.st.Phase.Active() && m.cfg.SessionTimeout > 0 && now.Sub(m.st.StartedAt) >= m.cfg.SessionTimeout {
		m.reset(now, "session timed out")
		return NoAction
	}

	switch m.st.Phase {
	case Locking:
		if m.st.Verdict.IsIdentified() && m.st.Code != "" {
			m.st.LockedName = m.st.Verdict.Name
			m.st.Challenge = ChallengeState{Sequence: m.pickSequence()}
			m.enter(now, ChallengePending)
		}

	case ChallengePending:
		if elapsed >= m.cfg.ChallengeCountdown {
			m.st.Challenge.StepStartedAt = now
			m.enter(now, Challenge)
		}

	case Challenge:
		if m.st.Challenge.Passed && !m.st.Fired {
			m.st.Fired = true
			m.enter(now, ProcessingTransaction)
			return StartTransaction
		}
		if m.cfg.ChallengeTimeout > 0 && now.Sub(m.st.Challenge.StepStartedAt) >= m.cfg.ChallengeTimeout {
			m.reset(now, "challenge timed out")
		}

	case ProcessingTransaction:
		if m.cfg.ProcessingTimeout > 0 && elapsed >= m.cfg.ProcessingTimeout {
			m.reset(now, "backend timed out")
		}

	case Success:
		if elapsed >= m.cfg.SuccessDisplay {
			m.toStandby(now, "")
		}

	case Reset:
		if elapsed >= m.cfg.ResetDisplay {
			m.enter(now, Standby)
		}
	}
	return NoAction
}

// CompleteTransaction applies the backend result for generation gen.
func (m *Machine) CompleteTransaction(now time.Time, gen uint64, out *Outcome, err error) bool {
	if gen != m.st.Generation || m.st.Phase != ProcessingTransaction {
		return false
	}
	if err != nil {
		m.reset(now, err.Error())
		return true
	}
	m.st.Outcome = out
	m.enter(now, Success)
	return true
}

// Abort ends the current session from outside, e.g. when the camera disappears.
func (m *Machine) Abort(now time.Time, reason string) {
	if m.st.Phase == Standby || m.st.Phase == Reset {
		return
	}
	m.reset(now, reason)
}

func (m *Machine) pickSequence() []liveness.Gesture {
	order := m.rng.Perm(len(liveness.Pool))
	seq := make([]liveness.Gesture, m.cfg.ChallengeSteps)
	for i := range seq {
		seq[i] = liveness.Pool[order[i]]
	}
	return seq
}

func (m *Machine) enter(now time.Time, p Phase) {
	m.log.Info("phase change",
		"session", m.st.ID, "generation", m.st.Generation, "from", m.st.Phase.String(), "to", p.String())
	m.st.Phase = p
	m.st.PhaseEnteredAt = now
}

// clear drops every per-session field and starts a new generation.
func (m *Machine) clear() {
	m.st.Generation++
	m.st.ID = uuid.Nil
	m.st.StartedAt = time.Time{}
	m.st.Code = ""
	m.st.Verdict = types.Unset
	m.st.LockedName = ""
	m.st.Challenge = ChallengeState{}
	m.st.Fired = false
	m.st.Outcome = nil
}

func (m *Machine) reset(now time.Time, reason string) {
	m.log.Warn("session reset", "session", m.st.ID, "phase", m.st.Phase.String(), "reason", reason)
	m.clear()
	m.st.ResetReason = reason
	m.enter(now, Reset)
}

func (m *Machine) toStandby(now time.Time, reason string) {
	if reason != "" {
		m.log.Info("session abandoned", "session", m.st.ID, "phase", m.st.Phase.String(), "reason", reason)
	}
	m.clear()
	m.st.ResetReason = reason
	m.enter(now, Standby)
}
