// Package initializer runs the process bootstrap steps (catalog seeding,
// cache reset) behind an explicit Init/Reinit contract.
//
// A Service is constructed by the server and passed to whoever needs it;
// there is no package-level state.
package initializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/talentdesk/internal/health"
)

// ErrNoSteps is returned by Init when nothing was registered.
var ErrNoSteps = errors.New("initializer: no steps registered")

// Step is one named bootstrap action. Steps run in registration order and
// stop at the first failure.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// StepResult records how one step went.
type StepResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"durationNs"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// Result is the outcome of an Init or Reinit call.
type Result struct {
	Initialized bool         `json:"initialized"`
	Attempt     int          `json:"attempt"`
	Steps       []StepResult `json:"steps"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
	// Err is the first step failure, nil on success.
	Err error `json:"-"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStepTimeout bounds each step. Zero means no bound beyond ctx.
func WithStepTimeout(d time.Duration) Option {
	return func(s *Service) { s.stepTimeout = d }
}

// Service owns the bootstrap state.
type Service struct {
	mu          sync.Mutex
	steps       []Step
	last        *Result
	attempts    int
	stepTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an initializer with the given steps.
func New(steps []Step, opts ...Option) *Service {
	s := &Service{
		steps:  append([]Step(nil), steps...),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register appends a step. Steps added after a successful Init only run on
// the next Reinit.
func (s *Service) Register(step Step) {
	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()
}

// Init runs the steps once. After a successful run it returns the cached
// result without running anything; after a failed run it tries again.
func (s *Service) Init(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.Initialized {
		return *s.last
	}
	return s.run(ctx)
}

// Reinit runs every step again regardless of previous state.
func (s *Service) Reinit(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx)
}

// Initialized reports whether the last run succeeded.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last != nil && s.last.Initialized
}

// Last returns the most recent result, if any.
func (s *Service) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Checker exposes the initialization state to the health registry.
func (s *Service) Checker() health.Checker {
	return func(context.Context) health.Status {
		res, ok := s.Last()
		switch {
		case !ok:
			return health.Status{Name: "initializer", Healthy: false, Detail: "not initialized"}
		case !res.Initialized:
			return health.Status{Name: "initializer", Healthy: false, Detail: res.Err.Error()}
		default:
			return health.Status{Name: "initializer", Healthy: true}
		}
	}
}

// run must be called with mu held.
func (s *Service) run(ctx context.Context) Result {
	s.attempts++
	res := Result{Attempt: s.attempts, StartedAt: s.now()}

	if len(s.steps) == 0 {
		res.Err = ErrNoSteps
		res.FinishedAt = s.now()
		s.last = &res
		return res
	}

	for _, step := range s.steps {
		if res.Err != nil {
			res.Steps = append(res.Steps, StepResult{Name: step.Name, Skipped: true})
			continue
		}
		start := s.now()
		err := s.runStep(ctx, step)
		sr := StepResult{Name: step.Name, OK: err == nil, Duration: s.now().Sub(start)}
		if err != nil {
			sr.Error = err.Error()
			res.Err = fmt.Errorf("initializer: step %s: %w", step.Name, err)
			s.logger.Error("bootstrap step failed", "step", step.Name, "attempt", res.Attempt, "error", err)
		} else {
			s.logger.Debug("bootstrap step done", "step", step.Name, "duration", sr.Duration)
		}
		res.Steps = append(res.Steps, sr)
	}

	res.Initialized = res.Err == nil
	res.FinishedAt = s.now()
	s.last = &res
	if res.Initialized {
		s.logger.Info("bootstrap complete", "attempt", res.Attempt, "steps", len(res.Steps))
	}
	return res
}

func (s *Service) runStep(ctx context.Context, step Step) (err error) {
	if s.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.stepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return step.Run(ctx)
}
