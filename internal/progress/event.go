package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StagePassStart  Stage = "PASS_START"
	StageRecordDone Stage = "RECORD_DONE"
	StagePassDone   Stage = "PASS_DONE"
)

// Result classifies a completed record.
type Result string

// Record results.
const (
	ResultMapped     Result = "mapped"
	ResultUnresolved Result = "unresolved"
)

// Counters are the running totals of a pass.
type Counters struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Mapped     int `json:"mapped"`
	Unresolved int `json:"unresolved"`
}

// Event captures one milestone of a pass.
type Event struct {
	// RunID identifies the pass.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which pass milestone occurred.
	Stage Stage
	// URLID and Host are set for record events.
	URLID string
	Host  string
	// Result and Label describe a finished record; Label is the provenance for
	// mapped records and the reason otherwise.
	Result Result
	Label  string
	// Counters are the pass totals after this event.
	Counters Counters
	Elapsed  time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StagePassStart, StagePassDone:
	case StageRecordDone:
		if e.URLID == "" {
			return errors.New("record event requires url id")
		}
		if e.Result != ResultMapped && e.Result != ResultUnresolved {
			return fmt.Errorf("record event has unknown result %q", e.Result)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Elapsed < 0 {
		return errors.New("elapsed must be >= 0")
	}
	return nil
}
