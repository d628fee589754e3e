package cascade

import (
	"fmt"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// Stage is a state of the scan state machine.
type Stage int

const (
	StageIdle Stage = iota
	StageShellClassified
	StageDurationClassified
	StageColorClassified
	StageComplete
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageShellClassified:
		return "shell_classified"
	case StageDurationClassified:
		return "duration_classified"
	case StageColorClassified:
		return "color_classified"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageError reports the transition that moved a scan to StageFailed.
// Stage is the state the scan was trying to reach.
type StageError struct {
	Stage Stage
	Slot  domain.Slot
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("cascade %s (slot %s): %v", e.Stage, e.Slot, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
