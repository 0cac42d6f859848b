package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageLayerStart  Stage = "LAYER_START"
	StageLayerDone   Stage = "LAYER_DONE"
	StageFetchDone   Stage = "FETCH_DONE"
	StageExtractDone Stage = "EXTRACT_DONE"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// Event is one progress milestone of a crawl run.
type Event struct {
	// RunID is the 16-byte form of the run's UUID.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Layer is the zero-based layer index for layer events.
	Layer int
	// Site is the host of the identifier for fetch and extract events.
	Site string
	URL  string
	// Count is stage specific: frontier size for LAYER_START, identifiers
	// discovered for LAYER_DONE, links kept for EXTRACT_DONE and identifiers
	// downloaded for RUN_DONE.
	Count int
	// Failed marks fetch or extract failures.
	Failed bool
	Dur    time.Duration
	// Note carries error text.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageLayerStart, StageLayerDone:
		if e.Layer < 0 {
			return errors.New("layer must be >= 0")
		}
	case StageFetchDone, StageExtractDone:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// ParseRunID converts a run ID string into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return [16]byte(id), nil
}
