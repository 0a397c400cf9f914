// Package supervisor reports liveness on a fixed schedule and guarantees the
// actuators are left safe whenever the process stops.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/earti/camlift/internal/debug"
	"github.com/earti/camlift/internal/logic/motion"
	"github.com/earti/camlift/internal/logic/position"
)

// DefaultHealthInterval is used when Config.HealthInterval is zero.
const DefaultHealthInterval = 30 * time.Second

// EventHealth is the publish kind of periodic snapshots.
const EventHealth = "health"

// Snapshot is one liveness report.
type Snapshot struct {
	Time          time.Time `json:"time"`
	Zone          string    `json:"zone,omitempty"`
	Sessions      int       `json:"sessions"`
	ServoPosition int       `json:"servo_position"`
	TotalSteps    int       `json:"total_steps"`
	State         string    `json:"state"`
	Queued        int       `json:"queued"`
}

type (
	SessionCounter interface{ Count() int }
	PositionReader interface{ Snapshot() position.Snapshot }
	StateReader    interface{ State() motion.State }
	QueueReader    interface{ Pending() int }
	Shutdowner     interface{ Shutdown() error }
	// Publisher receives every periodic snapshot, e.g. the web status stream.
	Publisher interface{ Publish(kind string, v any) }
)

// Deps are the collaborators the supervisor observes. Queue and Publisher
// may be nil.
type Deps struct {
	Sessions  SessionCounter
	Position  PositionReader
	Planner   StateReader
	Queue     QueueReader
	Actuators Shutdowner
	Publisher Publisher
}

// Config tunes the supervisor.
type Config struct {
	HealthInterval time.Duration
	Zone           string
}

// Supervisor owns the health schedule and the shutdown sequence.
type Supervisor struct {
	cfg    Config
	deps   Deps
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	started bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a stopped supervisor.
func New(cfg Config, deps Deps) *Supervisor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	return &Supervisor{
		cfg:    cfg,
		deps:   deps,
		cron:   cron.New(),
		logger: debug.Logger().With("component", "supervisor"),
	}
}

// Start schedules the health report every HealthInterval.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.deps.Sessions == nil || s.deps.Position == nil || s.deps.Planner == nil {
		return errors.New("supervisor: sessions, position and planner are required")
	}
	s.cron.Schedule(cron.Every(s.cfg.HealthInterval), cron.FuncJob(func() { s.Report() }))
	s.cron.Start()
	s.started = true
	debug.Verbose("Supervisor: health report every %s", s.cfg.HealthInterval)
	return nil
}

// Snapshot builds a report without logging or publishing it.
func (s *Supervisor) Snapshot() Snapshot {
	pos := s.deps.Position.Snapshot()
	snap := Snapshot{
		Time:          time.Now().UTC(),
		Zone:          s.cfg.Zone,
		Sessions:      s.deps.Sessions.Count(),
		ServoPosition: pos.Pan,
		TotalSteps:    pos.Steps,
		State:         s.deps.Planner.State().String(),
	}
	if s.deps.Queue != nil {
		snap.Queued = s.deps.Queue.Pending()
	}
	return snap
}

// Report builds a snapshot, logs it and publishes it.
func (s *Supervisor) Report() Snapshot {
	snap := s.Snapshot()
	s.logger.Info("health",
		"sessions", snap.Sessions,
		"servo_position", snap.ServoPosition,
		"total_steps", snap.TotalSteps,
		"state", snap.State,
		"queued", snap.Queued)
	if s.deps.Publisher != nil {
		s.deps.Publisher.Publish(EventHealth, snap)
	}
	return snap
}

// Shutdown stops the schedule and depowers the actuators. It runs once; later
// calls return the first result. Failures are logged and returned, never retried.
func (s *Supervisor) Shutdown() error {
	s.shutdownOnce.Do(func() {
		debug.Info("Supervisor: shutting down")
		s.mu.Lock()
		if s.started {
			<-s.cron.Stop().Done()
			s.started = false
		}
		s.mu.Unlock()

		if s.deps.Actuators != nil {
			if err := s.deps.Actuators.Shutdown(); err != nil {
				s.shutdownErr = fmt.Errorf("actuator shutdown: %w", err)
				debug.Error(s.shutdownErr)
			}
		}
		debug.Info("Supervisor: actuators safe")
	})
	return s.shutdownErr
}
