package session

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Caption is the one-line prompt shown under the camera view.
func (m *Machine) Caption(now time.Time) string {
	s := &m.st
	switch s.Phase {
	case Standby:
		return "Step in front of the camera"

	case Locking:
		switch {
		case s.Verdict.IsIdentified() && s.Code == "":
			return fmt.Sprintf("Hi %s, show your QR code", s.Verdict.Name)
		case s.Code != "" && !s.Verdict.IsIdentified():
			return "QR code captured, look at the camera"
		default:
			return "Look at the camera and show your QR code"
		}

	case ChallengePending:
		left := m.cfg.ChallengeCountdown - now.Sub(s.PhaseEnteredAt)
		secs := int(math.Ceil(left.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return fmt.Sprintf("Get ready, %s: %s in %d", s.LockedName, s.Challenge.Active().Instruction(), secs)

	case Challenge:
		ch := s.Challenge
		if len(ch.Sequence) > 1 {
			return fmt.Sprintf("%s (%d/%d)", ch.Active().Instruction(), ch.Step+1, len(ch.Sequence))
		}
		return ch.Active().Instruction()

	case ProcessingTransaction:
		return "Processing transaction..."

	case Success:
		if s.Outcome == nil {
			return "Verified"
		}
		msg := fmt.Sprintf("%s confirmed for %s", s.Outcome.Direction, s.Outcome.Borrower)
		if len(s.Outcome.Items) > 0 {
			msg += ": " + strings.Join(s.Outcome.Items, ", ")
		}
		return msg

	case Reset:
		return "Verification failed: " + s.ResetReason
	}
	return ""
}
