// Package controller is the rotation orchestrator: it composes the lifecycle
// client, the agent supervisor, and the scheduling policy into the session
// state machine, persisting durable state after every transition so its own
// restarts never duplicate or orphan a broadcast.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/camlive/agent"
	"github.com/onnwee/camlive/scheduler"
	"github.com/onnwee/camlive/state"
	"github.com/onnwee/camlive/telemetry"
	"github.com/onnwee/camlive/youtubeapi"
)

// Phase is the orchestrator's position in its lifecycle state machine.
type Phase int

const (
	PhaseBootstrapping Phase = iota
	PhaseRecovering
	PhaseSteadyState
	PhaseHandingOff
	PhaseShuttingDown
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseRecovering:
		return "recovering"
	case PhaseSteadyState:
		return "steady"
	case PhaseHandingOff:
		return "handing_off"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Lifecycle is the slice of the broadcast lifecycle client the controller
// uses. Satisfied by *youtubeapi.Service; faked in tests.
type Lifecycle interface {
	CreateSession(ctx context.Context, title, description, privacy string) (*youtubeapi.BroadcastSession, error)
	Transition(ctx context.Context, s *youtubeapi.BroadcastSession, target youtubeapi.BroadcastStatus) error
	BroadcastStatusOf(ctx context.Context, broadcastID string) (youtubeapi.BroadcastStatus, error)
	StreamActive(ctx context.Context, streamID string) (bool, error)
	EndSession(ctx context.Context, s *youtubeapi.BroadcastSession)
}

// Agents is the slice of the agent supervisor the controller uses.
type Agents interface {
	Start(ctx context.Context, sessionID int64, ingestURL string) (*agent.Handle, error)
	HealthCheck(ctx context.Context, h *agent.Handle) (agent.Status, error)
	RestartInPlace(ctx context.Context, h *agent.Handle) error
	Stop(ctx context.Context, h *agent.Handle)
}

// Options are the orchestration tunables. Zero values get defaults.
type Options struct {
	TitleTemplate string
	Description   string
	Privacy       string

	// TickInterval is the health-check/rotation loop period.
	TickInterval time.Duration
	// StreamActiveWait bounds how long a new session's ingest may take to
	// report data before the handoff is abandoned.
	StreamActiveWait time.Duration
	// StreamActivePoll is the ingest status poll period.
	StreamActivePoll time.Duration
	// FailureCooldown spaces out handoff re-attempts after a failure so the
	// loop does not hammer a broken API every tick.
	FailureCooldown time.Duration
	// Retry supplies the quota cool-down computation.
	Retry youtubeapi.RetryPolicy
	// ShutdownTimeout bounds the remote cleanup on the termination path.
	ShutdownTimeout time.Duration
}

func (o *Options) defaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 30 * time.Second
	}
	if o.StreamActiveWait <= 0 {
		o.StreamActiveWait = 2 * time.Minute
	}
	if o.StreamActivePoll <= 0 {
		o.StreamActivePoll = 5 * time.Second
	}
	if o.FailureCooldown <= 0 {
		o.FailureCooldown = time.Minute
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = youtubeapi.DefaultRetryPolicy()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 45 * time.Second
	}
}

// Controller runs the rotation state machine on a single goroutine. The
// loop-owned fields (st, handle, phase, quotaUntil) are never read from
// other goroutines; the HTTP layer sees a Snapshot value republished under
// the mutex after every mutation.
type Controller struct {
	lifecycle Lifecycle
	agents    Agents
	store     *state.Store
	policy    scheduler.Policy
	opts      Options

	now func() time.Time

	// Control-loop state. Only the Run goroutine touches these.
	phase      Phase
	st         *state.ControllerState
	handle     *agent.Handle
	quotaUntil time.Time
	lastFail   time.Time

	mu   sync.Mutex
	snap Snapshot
}

func New(lc Lifecycle, ag Agents, store *state.Store, policy scheduler.Policy, opts Options) *Controller {
	opts.defaults()
	c := &Controller{
		lifecycle: lc,
		agents:    ag,
		store:     store,
		policy:    policy,
		opts:      opts,
		now:       time.Now,
		phase:     PhaseBootstrapping,
		st:        &state.ControllerState{},
	}
	c.snap = c.snapshot()
	return c
}

// Run drives the controller until ctx is canceled or an unrecoverable error
// occurs. The shutdown path (stop agent, end session, persist) always runs
// before Run returns, including after a fatal error.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		c.shutdown(err)
	}()

	if err = c.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err = c.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// bootstrap loads persisted state and either recovers the previous session
// or creates a fresh one.
func (c *Controller) bootstrap(ctx context.Context) error {
	st, err := c.store.Load()
	if err != nil {
		return err
	}
	if st == nil {
		slog.Info("no persisted state, fresh start")
		st = &state.ControllerState{}
	}
	c.setState(st, nil)

	c.setPhase(PhaseRecovering)
	if recovered, err := c.recover(ctx); err != nil {
		return err
	} else if recovered {
		c.setPhase(PhaseSteadyState)
		return nil
	}

	sess, err := c.startSession(ctx)
	if err != nil {
		return err
	}
	st.Current = sess
	st.Next = nil
	st.StreamSequence = sess.ID
	if err := c.persist(); err != nil {
		return err
	}
	c.setPhase(PhaseSteadyState)
	return nil
}

// recover re-adopts a persisted session when the remote side still reports
// it live, reattaching a fresh relay instead of creating a new broadcast.
// A persisted mid-handoff next session is ended; the rotation that was in
// flight will simply be retried when its deadline math says so.
func (c *Controller) recover(ctx context.Context) (bool, error) {
	st := c.st
	if st.Next != nil {
		slog.Warn("interrupted handoff found in persisted state, discarding next session",
			slog.String("broadcast_id", st.Next.BroadcastID))
		c.lifecycle.EndSession(ctx, st.Next)
		st.Next = nil
		if err := c.persist(); err != nil {
			return false, err
		}
	}
	if st.Current == nil {
		return false, nil
	}

	// A failed status query says nothing about the broadcast itself.
	// Discarding the persisted session here would orphan a possibly
	// still-live broadcast and create a duplicate, so fail bootstrap and
	// let the next start retry with state intact.
	remote, err := c.lifecycle.BroadcastStatusOf(ctx, st.Current.BroadcastID)
	if err != nil {
		return false, fmt.Errorf("confirm persisted session %s: %w", st.Current.BroadcastID, err)
	}
	if remote != youtubeapi.StatusLive && remote != youtubeapi.StatusTesting {
		slog.Info("persisted session no longer live remotely, starting fresh",
			slog.String("broadcast_id", st.Current.BroadcastID),
			slog.String("remote_status", remote.String()))
		st.Current = nil
		return false, c.persist()
	}

	slog.Info("reattaching to live session",
		slog.String("broadcast_id", st.Current.BroadcastID),
		slog.Int64("session_id", st.Current.ID))
	h, err := c.agents.Start(ctx, st.Current.ID, st.Current.IngestURL)
	if err != nil {
		return false, fmt.Errorf("reattach agent: %w", err)
	}
	c.setHandle(h)
	telemetry.SetCurrentSession(st.Current.ID)
	return true, nil
}

// startSession creates a new session, starts its relay, and drives the
// broadcast to Live. Used both for the initial session and for the next
// session during a handoff.
func (c *Controller) startSession(ctx context.Context) (*youtubeapi.BroadcastSession, error) {
	now := c.now()
	seq := c.st.StreamSequence + 1
	title := c.policy.RenderTitle(c.opts.TitleTemplate, seq, now)

	createStart := time.Now()
	sess, err := c.lifecycle.CreateSession(ctx, title, c.opts.Description, c.opts.Privacy)
	if err != nil {
		return nil, err
	}
	telemetry.SessionsCreated.Inc()
	telemetry.SessionCreateDuration.Observe(time.Since(createStart).Seconds())
	sess.ID = seq
	sess.CreatedAt = now
	sess.Deadline = c.policy.RotationDeadline(now)

	h, err := c.agents.Start(ctx, sess.ID, sess.IngestURL)
	if err != nil {
		c.lifecycle.EndSession(ctx, sess)
		return nil, err
	}

	if err := c.waitStreamActive(ctx, sess.StreamID); err != nil {
		c.agents.Stop(ctx, h)
		c.lifecycle.EndSession(ctx, sess)
		return nil, err
	}
	if err := c.lifecycle.Transition(ctx, sess, youtubeapi.StatusTesting); err != nil {
		c.agents.Stop(ctx, h)
		c.lifecycle.EndSession(ctx, sess)
		return nil, err
	}
	if err := c.lifecycle.Transition(ctx, sess, youtubeapi.StatusLive); err != nil {
		c.agents.Stop(ctx, h)
		c.lifecycle.EndSession(ctx, sess)
		return nil, err
	}

	// One passing health check before the session is considered operational.
	if st, err := c.agents.HealthCheck(ctx, h); err != nil || st != agent.StatusRunning {
		c.agents.Stop(ctx, h)
		c.lifecycle.EndSession(ctx, sess)
		return nil, fmt.Errorf("agent not healthy after session start (status %s): %w", st, err)
	}

	c.setHandle(h)
	telemetry.SetCurrentSession(sess.ID)
	slog.Info("session live",
		slog.Int64("session_id", sess.ID),
		slog.String("broadcast_id", sess.BroadcastID),
		slog.Time("rotation_deadline", sess.Deadline))
	return sess, nil
}

// waitStreamActive polls the ingest status until it reports data or the
// bounded wait elapses.
func (c *Controller) waitStreamActive(ctx context.Context, streamID string) error {
	deadline := time.Now().Add(c.opts.StreamActiveWait)
	for {
		active, err := c.lifecycle.StreamActive(ctx, streamID)
		if err == nil && active {
			return nil
		}
		if err != nil {
			slog.Warn("ingest status poll failed", slog.String("stream_id", streamID), slog.Any("err", err))
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ingest for stream %s not active within %s", streamID, c.opts.StreamActiveWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.StreamActivePoll):
		}
	}
}

// tick runs one health-check/rotation cycle.
func (c *Controller) tick(ctx context.Context) error {
	defer c.publish()
	now := c.now()
	cur := c.st.Current
	if cur != nil {
		telemetry.SetRemainingSeconds(c.policy.Remaining(cur.Deadline, now).Seconds())
	}

	if err := c.checkAgent(ctx); err != nil {
		// Degraded agent: restarts are exhausted, the relay cannot hold the
		// current ingest. A full rotation gets a fresh ingest endpoint and a
		// clean slate, which historically clears encoder-side wedges too.
		slog.Error("agent degraded, forcing rotation", slog.Any("err", err))
		return c.handoff(ctx)
	}

	if cur == nil {
		return nil
	}
	if now.Before(c.quotaUntil) {
		return nil
	}
	telemetry.SetQuotaExhausted(false)
	if !c.policy.ShouldBeginHandoff(cur.Deadline, now) {
		return nil
	}
	if !c.lastFail.IsZero() && now.Sub(c.lastFail) < c.opts.FailureCooldown {
		return nil
	}
	return c.handoff(ctx)
}

// checkAgent health-checks the relay and restarts it in place on a crash.
// Only ErrAgentDegraded propagates; everything else is handled locally.
func (c *Controller) checkAgent(ctx context.Context) error {
	h := c.handle
	if h == nil {
		return nil
	}
	status, err := c.agents.HealthCheck(ctx, h)
	if err != nil {
		slog.Warn("health check failed", slog.Any("err", err))
		return nil
	}
	if status != agent.StatusCrashed {
		return nil
	}
	telemetry.AgentCrashes.Inc()
	slog.Warn("agent crashed, restarting in place",
		slog.String("agent", h.Name), slog.Int("restart_count", h.RestartCount))
	if err := c.agents.RestartInPlace(ctx, h); err != nil {
		if errors.Is(err, agent.ErrAgentDegraded) {
			return err
		}
		slog.Error("in-place restart failed, will retry next tick", slog.Any("err", err))
		return nil
	}
	telemetry.AgentRestarts.Inc()
	return nil
}

// handoff rotates to a freshly created session with a bounded overlap: the
// new agent goes live while the old one still streams, then the old pair is
// retired. On remote-side failure the current session stays on air past its
// soft deadline; continuity beats duration compliance. A persistence failure
// is the one fatal outcome: running on state the disk does not reflect would
// poison the next recovery.
func (c *Controller) handoff(ctx context.Context) error {
	ctx, span := telemetry.Tracer().Start(ctx, "handoff")
	defer span.End()

	c.setPhase(PhaseHandingOff)
	defer c.setPhase(PhaseSteadyState)
	telemetry.RotationsStarted.Inc()
	start := time.Now()

	oldSession := c.st.Current
	oldHandle := c.handle

	next, err := c.startSession(ctx)
	if err != nil {
		c.noteHandoffFailure(err)
		return nil
	}

	// The next session is live; record it before retiring the old pair so a
	// crash in between leaves both sessions discoverable.
	c.st.Next = next
	if perr := c.persist(); perr != nil {
		c.agents.Stop(ctx, c.handle)
		c.lifecycle.EndSession(ctx, next)
		c.st.Next = nil
		c.setHandle(oldHandle)
		c.noteHandoffFailure(perr)
		return perr
	}

	if oldHandle != nil {
		c.agents.Stop(ctx, oldHandle)
	}
	if oldSession != nil {
		c.lifecycle.EndSession(ctx, oldSession)
	}

	c.st.Current = next
	c.st.Next = nil
	c.st.StreamSequence = next.ID
	if perr := c.persist(); perr != nil {
		c.noteHandoffFailure(perr)
		return perr
	}

	c.lastFail = time.Time{}
	telemetry.RotationsSucceeded.Inc()
	telemetry.HandoffDuration.Observe(time.Since(start).Seconds())
	slog.Info("rotation complete",
		slog.Int64("session_id", next.ID),
		slog.String("broadcast_id", next.BroadcastID),
		slog.Duration("handoff_duration", time.Since(start)))
	return nil
}

func (c *Controller) noteHandoffFailure(err error) {
	telemetry.RotationsFailed.Inc()
	c.lastFail = c.now()
	if youtubeapi.IsQuotaExhausted(err) {
		cooldown := c.opts.Retry.QuotaCooldown()
		c.quotaUntil = c.now().Add(cooldown)
		c.publish()
		telemetry.SetQuotaExhausted(true)
		slog.Error("rotation blocked: API quota exhausted, cooling down",
			slog.Duration("cooldown", cooldown), slog.Any("err", err))
		return
	}
	slog.Error("rotation failed, staying on current session past deadline",
		slog.Any("err", err))
}

// shutdown runs the termination path: stop the relay, end the session,
// persist. It uses a fresh context since the run context is already gone.
func (c *Controller) shutdown(runErr error) {
	c.setPhase(PhaseShuttingDown)
	defer c.setPhase(PhaseTerminated)
	slog.Info("controller shutting down", slog.Any("run_err", runErr))

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownTimeout)
	defer cancel()

	if c.handle != nil {
		c.agents.Stop(ctx, c.handle)
		c.setHandle(nil)
	}
	if c.st.Next != nil {
		c.lifecycle.EndSession(ctx, c.st.Next)
		c.st.Next = nil
	}
	if c.st.Current != nil {
		c.lifecycle.EndSession(ctx, c.st.Current)
	}
	if err := c.persist(); err != nil {
		slog.Error("final state persist failed", slog.Any("err", err))
	}
}

// Snapshot is a point-in-time view of the controller for the status
// endpoint. All fields are copies; none alias control-loop state.
type Snapshot struct {
	Phase            string     `json:"phase"`
	StreamSequence   int64      `json:"stream_sequence"`
	CurrentBroadcast string     `json:"current_broadcast_id,omitempty"`
	NextBroadcast    string     `json:"next_broadcast_id,omitempty"`
	Deadline         *time.Time `json:"rotation_deadline,omitempty"`
	AgentName        string     `json:"agent,omitempty"`
	AgentStatus      string     `json:"agent_status,omitempty"`
	AgentRestarts    int        `json:"agent_restarts"`
	QuotaUntil       *time.Time `json:"quota_cooldown_until,omitempty"`
}

// Status returns the last published snapshot. Safe from any goroutine.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// snapshot copies the loop-owned state into a Snapshot. Control loop only.
func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{Phase: c.phase.String()}
	if c.st != nil {
		snap.StreamSequence = c.st.StreamSequence
		if c.st.Current != nil {
			snap.CurrentBroadcast = c.st.Current.BroadcastID
			d := c.st.Current.Deadline
			snap.Deadline = &d
		}
		if c.st.Next != nil {
			snap.NextBroadcast = c.st.Next.BroadcastID
		}
	}
	if c.handle != nil {
		snap.AgentName = c.handle.Name
		snap.AgentStatus = c.handle.Status.String()
		snap.AgentRestarts = c.handle.RestartCount
	}
	if !c.quotaUntil.IsZero() {
		q := c.quotaUntil
		snap.QuotaUntil = &q
	}
	return snap
}

// publish republishes the snapshot after the control loop mutated state.
func (c *Controller) publish() {
	snap := c.snapshot()
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

func (c *Controller) persist() error {
	if err := c.store.Save(c.st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	c.publish()
	return nil
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	c.publish()
}

func (c *Controller) setState(st *state.ControllerState, h *agent.Handle) {
	c.st = st
	c.handle = h
	c.publish()
}

func (c *Controller) setHandle(h *agent.Handle) {
	c.handle = h
	c.publish()
}
