package shooter

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

type Mode int

const (
	Stopped Mode = iota
	Intaking
	Outtaking
)

func (m Mode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Intaking:
		return "intaking"
	case Outtaking:
		return "outtaking"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ModeTracker holds the operating mode and when it was last entered.
// Re-entering the current mode leaves the timer running.
type ModeTracker struct {
	clock   clock.Clock
	mode    Mode
	enterAt time.Time
}

func NewModeTracker(clk clock.Clock) *ModeTracker {
	return &ModeTracker{
		clock:   clk,
		mode:    Stopped,
		enterAt: clk.Now(),
	}
}

// Enter switches to mode and reports whether that was a transition.
func (t *ModeTracker) Enter(mode Mode) bool {
	if mode == t.mode {
		return false
	}
	t.mode = mode
	t.enterAt = t.clock.Now()
	return true
}

func (t *ModeTracker) Mode() Mode {
	return t.mode
}

// Elapsed is the time since the last transition.
func (t *ModeTracker) Elapsed() time.Duration {
	return t.clock.Since(t.enterAt)
}
