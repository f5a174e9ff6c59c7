// Package publisher defines the pass-completed notification and the
// interface its transports implement.
package publisher

import (
	"context"
	"time"
)

// Publisher sends a JSON-encodable payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PassCompleted announces a finished pass.
type PassCompleted struct {
	RunID           string    `json:"run_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	DryRun          bool      `json:"dry_run"`
	Processed       int       `json:"processed"`
	Mapped          int       `json:"mapped"`
	Unresolved      int       `json:"unresolved"`
	UnresolvedAfter int       `json:"unresolved_after"`
	ReportLocation  string    `json:"report_location"`
}
