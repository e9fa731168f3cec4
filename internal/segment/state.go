package segment

import (
	"fmt"
	"strings"
)

// Mode is the active segmentation policy
type Mode int

const (
	ModeIdle Mode = iota
	ModeManual
	ModeAutoVAD
)

// String returns the mode name used by the control API
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeAutoVAD:
		return "vad"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// ParseMode parses a mode name as returned by Mode.String
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "idle":
		return ModeIdle, nil
	case "manual":
		return ModeManual, nil
	case "vad", "auto", "autovad":
		return ModeAutoVAD, nil
	default:
		return ModeIdle, fmt.Errorf("unknown segmentation mode %q", s)
	}
}

// state is the segmentation state machine value. Each mode carries only the
// counters that mode uses.
type state interface {
	mode() Mode
}

type idleState struct{}

func (idleState) mode() Mode { return ModeIdle }

// manualState counts consecutive silent chunks while a manual segment records
type manualState struct {
	threshold    int
	silentChunks int
	recording    bool
}

func (*manualState) mode() Mode { return ModeManual }

// autoState partitions the stream into speech segments on VAD transitions
type autoState struct {
	threshold    int
	silentChunks int
	triggered    bool // Last VAD verdict
}

func (*autoState) mode() Mode { return ModeAutoVAD }
