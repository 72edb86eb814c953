// Package recording caches LLM tool outputs on disk keyed by a hash of their
// inputs, so flows can be replayed deterministically in tests.
package recording

import (
	"fmt"
	"os"
	"strings"
)

// EnvMode is the environment variable selecting the recording mode.
const EnvMode = "PF_RECORDING_MODE"

// Mode selects whether LLM calls are recorded, replayed or passed through.
type Mode string

const (
	ModeOff    Mode = ""
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeRecord, ModeReplay:
		return m, nil
	default:
		return ModeOff, fmt.Errorf("unknown recording mode %q", s)
	}
}

// ModeFromEnv reads PF_RECORDING_MODE. Unknown values disable recording.
func ModeFromEnv() Mode {
	m, err := ParseMode(os.Getenv(EnvMode))
	if err != nil {
		return ModeOff
	}
	return m
}

// IsRecording reports whether PF_RECORDING_MODE is "record".
func IsRecording() bool { return ModeFromEnv() == ModeRecord }

// IsReplaying reports whether PF_RECORDING_MODE is "replay".
func IsReplaying() bool { return ModeFromEnv() == ModeReplay }

// RecordingOrReplaying reports whether either mode is active.
func RecordingOrReplaying() bool { return IsRecording() || IsReplaying() }
