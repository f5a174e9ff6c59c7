// Package orchestrator repeats resolution passes until the dataset is fully
// resolved, progress stalls, or the pass cap is reached.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/license-resolver/internal/report"
)

// State is the loop's current phase.
type State string

// Loop states.
const (
	StateIdle        State = "idle"
	StateRunningPass State = "running_pass"
	StateEvaluating  State = "evaluating"
	StateSleeping    State = "sleeping"
	StateDone        State = "done"
)

// Reason explains why the loop stopped.
type Reason string

// Terminal reasons.
const (
	ReasonSuccess  Reason = "success"
	ReasonStalled  Reason = "stalled"
	ReasonPassCap  Reason = "pass_cap"
	ReasonCanceled Reason = "canceled"
)

// DefaultStallThreshold is the number of consecutive zero-progress passes
// that ends the loop.
const DefaultStallThreshold = 3

// PassFunc runs one pass in-process and returns its report. A pass cut short
// by cancellation may return its partial report together with the context error.
type PassFunc func(ctx context.Context) (report.Report, error)

// Sleeper waits between passes.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config bounds the loop. MaxPasses zero means unlimited.
type Config struct {
	MaxPasses      int
	StallThreshold int
	PassDelay      time.Duration
}

// Result is the outcome of a full run.
type Result struct {
	Reason  Reason
	Reports []report.Report
}

// Status is a point-in-time view of the loop for the status server.
type Status struct {
	State       State  `json:"state"`
	Passes      int    `json:"passes"`
	NonProgress int    `json:"non_progress"`
	LastRunID   string `json:"last_run_id,omitempty"`
	Reason      Reason `json:"reason,omitempty"`
}

// Orchestrator drives passes. Status is safe to call concurrently with Run.
type Orchestrator struct {
	cfg    Config
	pass   PassFunc
	sleep  Sleeper
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New creates an Orchestrator.
func New(cfg Config, pass PassFunc, sleep Sleeper, logger *zap.Logger) (*Orchestrator, error) {
	if pass == nil {
		return nil, errors.New("orchestrator: pass function is required")
	}
	if sleep == nil {
		return nil, errors.New("orchestrator: sleeper is required")
	}
	if cfg.MaxPasses < 0 {
		return nil, fmt.Errorf("orchestrator: max passes must be >= 0, got %d", cfg.MaxPasses)
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = DefaultStallThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		pass:   pass,
		sleep:  sleep,
		logger: logger.Named("orchestrator"),
		status: Status{State: StateIdle},
	}, nil
}

// Status returns the current loop state.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

// Run executes passes until a terminal condition. A pass error other than
// cancellation halts the loop and is returned with the reports gathered so far.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var res Result
	nonProgress := 0
	previewed := make(map[string]int)
	for {
		passNo := len(res.Reports) + 1
		o.update(func(s *Status) { s.State = StateRunningPass })
		rep, err := o.pass(ctx)
		if rep.RunID != "" {
			res.Reports = append(res.Reports, rep)
		}
		if err != nil {
			if ctx.Err() != nil {
				return o.finish(res, ReasonCanceled), nil
			}
			o.update(func(s *Status) { s.State = StateDone })
			return res, fmt.Errorf("pass %d: %w", passNo, err)
		}

		o.update(func(s *Status) {
			s.State = StateEvaluating
			s.Passes = len(res.Reports)
			s.LastRunID = rep.RunID
		})

		progress := rep.Summary.Mapped
		if rep.Options.DryRun() {
			progress = freshMappings(rep, previewed)
		}
		if progress > 0 {
			nonProgress = 0
		} else {
			nonProgress++
		}
		o.update(func(s *Status) { s.NonProgress = nonProgress })
		o.logger.Info("pass evaluated",
			zap.String("run_id", rep.RunID),
			zap.Int("pass", len(res.Reports)),
			zap.Int("mapped", rep.Summary.Mapped),
			zap.Int("progress", progress),
			zap.Int("unresolved_after", rep.Dataset.UnresolvedAfter),
			zap.Int("non_progress", nonProgress),
		)

		switch {
		case rep.Dataset.UnresolvedAfter == 0:
			return o.finish(res, ReasonSuccess), nil
		case nonProgress >= o.cfg.StallThreshold:
			return o.finish(res, ReasonStalled), nil
		case o.cfg.MaxPasses > 0 && len(res.Reports) >= o.cfg.MaxPasses:
			return o.finish(res, ReasonPassCap), nil
		}

		o.update(func(s *Status) { s.State = StateSleeping })
		if err := o.sleep.Sleep(ctx, o.cfg.PassDelay); err != nil {
			return o.finish(res, ReasonCanceled), nil
		}
	}
}

// freshMappings counts the mapped outcomes of a dry-run pass that no earlier
// pass of this run already previewed with the same license. A dry run never
// commits, so every pass maps the same records again.
func freshMappings(rep report.Report, previewed map[string]int) int {
	fresh := 0
	for _, o := range rep.Outcomes {
		if o.Mapped == nil {
			continue
		}
		if id, ok := previewed[o.URLID]; ok && id == o.Mapped.LicenseID {
			continue
		}
		previewed[o.URLID] = o.Mapped.LicenseID
		fresh++
	}
	return fresh
}

func (o *Orchestrator) finish(res Result, reason Reason) Result {
	res.Reason = reason
	o.update(func(s *Status) {
		s.State = StateDone
		s.Reason = reason
		s.Passes = len(res.Reports)
	})
	o.logger.Info("orchestration finished", zap.String("reason", string(reason)), zap.Int("passes", len(res.Reports)))
	return res
}
