package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Status is the relay-process state as the supervisor sees it.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusCrashed
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusCrashed:
		return "crashed"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAgentDegraded signals sustained crash-looping: restarts inside the
// rolling window exceeded the budget, which usually means the source is
// unreachable and should be surfaced rather than masked by more restarts.
var ErrAgentDegraded = errors.New("agent degraded: crash-looping beyond restart budget")

// LaunchError wraps a failure to start the relay process at all.
type LaunchError struct{ Err error }

func (e *LaunchError) Error() string { return "agent launch failed: " + e.Err.Error() }
func (e *LaunchError) Unwrap() error { return e.Err }

// Handle identifies one relay-process instance bound to one session's ingest
// endpoint. It is owned by the Supervisor; callers only hold the reference.
type Handle struct {
	ID                string
	Name              string
	SessionID         int64
	IngestURL         string
	Status            Status
	RestartCount      int
	LastHealthCheckAt time.Time

	restarts []time.Time // rolling window for crash-loop detection
}

// Supervisor starts, health-checks, restarts-in-place, and stops relay
// agents. All handles it creates target the same configured source.
type Supervisor struct {
	rt        Runtime
	sourceURL string

	StopGrace     time.Duration
	WarmUp        time.Duration // wait between launch and the liveness check
	MaxRestarts   int
	RestartWindow time.Duration

	now func() time.Time
}

func NewSupervisor(rt Runtime, sourceURL string) *Supervisor {
	return &Supervisor{
		rt:            rt,
		sourceURL:     sourceURL,
		StopGrace:     10 * time.Second,
		WarmUp:        3 * time.Second,
		MaxRestarts:   5,
		RestartWindow: 10 * time.Minute,
		now:           time.Now,
	}
}

// Start launches a relay for the given session's ingest endpoint and
// verifies it is alive after a short warm-up. The handle name is stable per
// session so a controller restart can re-adopt or replace it by name.
func (s *Supervisor) Start(ctx context.Context, sessionID int64, ingestURL string) (*Handle, error) {
	h := &Handle{
		ID:        uuid.New().String(),
		Name:      fmt.Sprintf("camlive-agent-%d", sessionID),
		SessionID: sessionID,
		IngestURL: ingestURL,
		Status:    StatusStarting,
	}
	if err := s.launch(ctx, h); err != nil {
		return nil, err
	}
	slog.Info("agent running", slog.String("agent", h.Name), slog.Int64("session_id", sessionID))
	return h, nil
}

func (s *Supervisor) launch(ctx context.Context, h *Handle) error {
	if err := s.rt.Launch(ctx, h.Name, s.sourceURL, h.IngestURL); err != nil {
		h.Status = StatusCrashed
		return &LaunchError{Err: err}
	}
	if s.WarmUp > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.WarmUp):
		}
	}
	alive, err := s.rt.Alive(ctx, h.Name)
	if err != nil {
		h.Status = StatusCrashed
		return &LaunchError{Err: err}
	}
	if !alive {
		h.Status = StatusCrashed
		return &LaunchError{Err: errors.New("relay exited during warm-up")}
	}
	h.Status = StatusRunning
	return nil
}

// HealthCheck polls process liveness without blocking on the relay itself.
// A poll error leaves the previous status in place rather than declaring a
// crash on, say, a momentary runtime hiccup.
func (s *Supervisor) HealthCheck(ctx context.Context, h *Handle) (Status, error) {
	if h.Status == StatusStopped {
		return StatusStopped, nil
	}
	alive, err := s.rt.Alive(ctx, h.Name)
	if err != nil {
		return h.Status, err
	}
	h.LastHealthCheckAt = s.now()
	if alive {
		h.Status = StatusRunning
	} else {
		h.Status = StatusCrashed
	}
	return h.Status, nil
}

// RestartInPlace relaunches the relay against the same ingest endpoint and
// source, incrementing RestartCount. It never allocates a new session. When
// restarts inside RestartWindow exceed MaxRestarts it returns
// ErrAgentDegraded instead of restarting again.
func (s *Supervisor) RestartInPlace(ctx context.Context, h *Handle) error {
	now := s.now()
	cutoff := now.Add(-s.RestartWindow)
	kept := h.restarts[:0]
	for _, t := range h.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.restarts = kept
	if len(h.restarts) >= s.MaxRestarts {
		return ErrAgentDegraded
	}
	h.restarts = append(h.restarts, now)
	h.RestartCount++

	slog.Warn("restarting agent in place",
		slog.String("agent", h.Name),
		slog.Int("restart_count", h.RestartCount),
		slog.Int("in_window", len(h.restarts)))

	_ = s.rt.Stop(ctx, h.Name, s.StopGrace)
	h.Status = StatusStarting
	return s.launch(ctx, h)
}

// Stop gracefully stops the relay, forcing termination after StopGrace.
// Idempotent: stopping a stopped handle is a no-op.
func (s *Supervisor) Stop(ctx context.Context, h *Handle) {
	if h == nil || h.Status == StatusStopped {
		return
	}
	if err := s.rt.Stop(ctx, h.Name, s.StopGrace); err != nil {
		slog.Warn("agent stop reported error", slog.String("agent", h.Name), slog.Any("err", err))
	}
	h.Status = StatusStopped
	slog.Info("agent stopped", slog.String("agent", h.Name))
}
