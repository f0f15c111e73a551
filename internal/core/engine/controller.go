package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/core"
	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// Executor performs the rate-limited action for a target.
type Executor interface {
	Perform(ctx context.Context, target core.Target) (core.Outcome, error)
}

// Substituter performs the low-risk alternative action (for example saving
// a target for later) when behavior injection picks substitute.
type Substituter interface {
	Substitute(ctx context.Context, target core.Target) error
}

// TargetSource yields candidate targets. ok is false once exhausted.
type TargetSource interface {
	Next(ctx context.Context) (target core.Target, ok bool, err error)
}

// SessionStore persists crash-recovery metadata. LoadSession returns nil,
// nil when nothing has been stored yet.
type SessionStore interface {
	LoadSession(ctx context.Context) (*core.SessionState, error)
	SaveSession(ctx context.Context, state *core.SessionState) error
}

// VerdictKind is the controller's decision for one target.
type VerdictKind string

const (
	VerdictWait       VerdictKind = "wait"
	VerdictSkip       VerdictKind = "skip"
	VerdictStop       VerdictKind = "stop"
	VerdictPerform    VerdictKind = "perform"
	VerdictSubstitute VerdictKind = "substitute"
	VerdictPause      VerdictKind = "pause"
)

// Verdict explains a decision. Until is set for waits; Delay is the pause
// length or the spacing still owed before a perform.
type Verdict struct {
	Kind     VerdictKind           `json:"kind"`
	Reason   string                `json:"reason,omitempty"`
	Until    time.Time             `json:"until,omitempty"`
	Delay    time.Duration         `json:"delay,omitempty"`
	Skip     core.SkipVerdict      `json:"skip"`
	Behavior core.BehaviorDecision `json:"behavior"`
}

// Result is what Process did with a target.
type Result struct {
	TargetID  string         `json:"target_id"`
	Verdict   Verdict        `json:"verdict"`
	Performed bool           `json:"performed"`
	Outcome   core.Outcome   `json:"outcome"`
	Anomalies []core.Anomaly `json:"anomalies,omitempty"`
}

// Wait reasons.
const (
	ReasonOutsideWindow   = "outside activity window"
	ReasonDailyLimit      = "daily limit reached"
	ReasonVacation        = "vacation mode"
	ReasonCrashed         = "crash not acknowledged"
	ReasonIntentionalSkip = "intentional skip"
)

// minWindowWait keeps a gate that disagrees with itself from spinning.
const minWindowWait = time.Second

// ErrExecutorPanic is returned when the executor panicked; the session is
// marked crashed.
var ErrExecutorPanic = errors.New("executor panicked")

// ControllerConfig tunes the worker loop.
type ControllerConfig struct {
	// ExitWhenExhausted stops Run once the daily quota is used instead of
	// sleeping until the next day's first window.
	ExitWhenExhausted bool
	// Research runs a reading pass before each perform.
	Research bool
}

// Components wires the controller. Substituter and Handled are optional.
type Components struct {
	Gate        *WindowGate
	Quota       *QuotaLimiter
	Behavior    *BehaviorInjector
	Classifier  *DetectionClassifier
	Risk        *RiskMonitor
	Executor    Executor
	Substituter Substituter
	Sessions    SessionStore
	Handled     HandledIndex
}

// Controller runs the per-target pipeline: window gate, classification,
// quota, behavior injection, execution, and bookkeeping.
type Controller struct {
	Components
	cfg   ControllerConfig
	sleep SleepFunc
	deps  Deps

	mu      sync.Mutex
	session core.SessionState
	resumed bool
}

type evalOptions struct {
	skipBehavior bool
	skipDelay    bool
}

// NewController checks that the required components are present. A nil
// sleep uses Sleep.
func NewController(components Components, cfg ControllerConfig, sleep SleepFunc, deps Deps) (*Controller, error) {
	switch {
	case components.Gate == nil:
		return nil, errors.New("controller requires a window gate")
	case components.Quota == nil:
		return nil, errors.New("controller requires a quota limiter")
	case components.Behavior == nil:
		return nil, errors.New("controller requires a behavior injector")
	case components.Classifier == nil:
		return nil, errors.New("controller requires a detection classifier")
	case components.Risk == nil:
		return nil, errors.New("controller requires a risk monitor")
	case components.Executor == nil:
		return nil, errors.New("controller requires an executor")
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Controller{
		Components: components,
		cfg:        cfg,
		sleep:      sleep,
		deps:       deps.withDefaults(),
	}, nil
}

// Resume loads the session. A session still flagged as running was not shut
// down cleanly and is converted to a crash. It returns
// ErrCrashUnacknowledged while a crash is pending.
func (c *Controller) Resume(ctx context.Context) (core.SessionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resumeLocked(ctx)
	if c.session.Crashed {
		return copySession(c.session), apperrors.ErrCrashUnacknowledged
	}
	return copySession(c.session), nil
}

func (c *Controller) resumeLocked(ctx context.Context) {
	now := c.deps.Clock()
	var loaded *core.SessionState
	if c.Sessions != nil {
		state, err := c.Sessions.LoadSession(ctx)
		if err != nil {
			c.deps.Logger.Warn("session state unavailable, starting fresh",
				zap.Error(apperrors.NewPersistenceError("load session", err)))
		}
		loaded = state
	}

	if loaded == nil {
		c.session = newSession(now)
	} else {
		c.session = *loaded
		if c.session.Running && !c.session.Crashed {
			c.session.Crashed = true
			c.session.CrashReason = "unclean shutdown"
		}
		c.session.Running = false
	}
	c.resumed = true
	c.saveSessionLocked(ctx, now)

	if c.session.Crashed {
		c.deps.Logger.Warn("previous session crashed",
			zap.String("session_id", c.session.SessionID),
			zap.String("reason", c.session.CrashReason))
		c.deps.emit(ctx, core.CategorySession, core.SeverityHigh, "previous session crashed", map[string]string{
			"session_id": c.session.SessionID,
			"reason":     c.session.CrashReason,
		})
	}
}

// AcknowledgeCrash clears a pending crash so decisions may resume.
func (c *Controller) AcknowledgeCrash(ctx context.Context) core.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureResumedLocked(ctx)
	if c.session.Crashed {
		c.deps.Logger.Info("crash acknowledged",
			zap.String("session_id", c.session.SessionID),
			zap.String("reason", c.session.CrashReason))
		c.deps.emit(ctx, core.CategorySession, core.SeverityInfo, "crash acknowledged", map[string]string{
			"session_id": c.session.SessionID,
			"reason":     c.session.CrashReason,
		})
	}
	c.session.Crashed = false
	c.session.CrashReason = ""
	c.saveSessionLocked(ctx, c.deps.Clock())
	return copySession(c.session)
}

// ResetSession starts a new session with zeroed counters.
func (c *Controller) ResetSession(ctx context.Context) core.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.deps.Clock()
	c.session = newSession(now)
	c.resumed = true
	c.saveSessionLocked(ctx, now)
	return copySession(c.session)
}

// Session returns a copy of the current session.
func (c *Controller) Session() core.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySession(c.session)
}

// Evaluate decides what to do with target without performing it.
func (c *Controller) Evaluate(ctx context.Context, target core.Target) Verdict {
	return c.evaluate(ctx, target, evalOptions{})
}

func (c *Controller) evaluate(ctx context.Context, target core.Target, opts evalOptions) Verdict {
	c.mu.Lock()
	c.ensureResumedLocked(ctx)
	crashed := c.session.Crashed
	c.mu.Unlock()

	if crashed {
		return Verdict{Kind: VerdictStop, Reason: ReasonCrashed}
	}
	if c.Gate.Vacation() {
		return Verdict{Kind: VerdictStop, Reason: ReasonVacation}
	}

	now := c.deps.Clock()
	if !c.Gate.IsActive(now) {
		return Verdict{Kind: VerdictWait, Reason: ReasonOutsideWindow, Until: c.Gate.NextWindowStart(now)}
	}

	if skip := c.Classifier.Classify(ctx, target); skip.Skip {
		return Verdict{Kind: VerdictSkip, Reason: string(skip.Reason), Skip: skip}
	}

	if !c.Quota.CanAct() {
		if c.cfg.ExitWhenExhausted {
			return Verdict{Kind: VerdictStop, Reason: ReasonDailyLimit}
		}
		return Verdict{Kind: VerdictWait, Reason: ReasonDailyLimit, Until: c.nextDayStart(now)}
	}

	if !opts.skipBehavior {
		decision := c.Behavior.Decide()
		switch decision.Kind {
		case core.BehaviorPause:
			return Verdict{Kind: VerdictPause, Reason: decision.Reason, Delay: decision.Duration, Behavior: decision}
		case core.BehaviorSubstitute:
			return Verdict{Kind: VerdictSubstitute, Reason: decision.Reason, Behavior: decision}
		case core.BehaviorSkip:
			return Verdict{Kind: VerdictSkip, Reason: ReasonIntentionalSkip, Behavior: decision, Skip: core.NoSkip()}
		}
	}

	verdict := Verdict{Kind: VerdictPerform, Behavior: core.BehaviorDecision{Kind: core.BehaviorProceed}}
	if !opts.skipDelay {
		verdict.Delay = c.Quota.RequiredDelay()
	}
	return verdict
}

// Process runs the full pipeline for one target. It waits (cancellably) for
// the activity window, pauses and action spacing, and records the outcome.
// It returns ErrDailyLimitReached with a wait verdict when the quota is
// used, and an *errors.ActionExecutionFailure when the executor failed.
func (c *Controller) Process(ctx context.Context, target core.Target) (Result, error) {
	result := Result{TargetID: target.ID}
	c.Quota.ResetBackoffIfSafe(ctx)

	opts := evalOptions{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		verdict := c.evaluate(ctx, target, opts)
		result.Verdict = verdict

		switch verdict.Kind {
		case VerdictStop:
			switch verdict.Reason {
			case ReasonCrashed:
				return result, apperrors.ErrCrashUnacknowledged
			case ReasonVacation:
				return result, apperrors.ErrVacation
			default:
				return result, apperrors.ErrDailyLimitReached
			}

		case VerdictWait:
			if verdict.Reason == ReasonDailyLimit {
				return result, apperrors.ErrDailyLimitReached
			}
			c.deps.Logger.Info("outside activity window, waiting",
				zap.Time("until", verdict.Until))
			if err := c.sleepUntil(ctx, verdict.Until); err != nil {
				return result, err
			}

		case VerdictSkip:
			c.recordSkip(ctx, target, verdict)
			return result, nil

		case VerdictSubstitute:
			c.recordSubstitute(ctx, target)
			return result, nil

		case VerdictPause:
			c.deps.Logger.Info("pausing",
				zap.String("reason", verdict.Reason),
				zap.Duration("duration", verdict.Delay))
			c.deps.emit(ctx, core.CategoryBehavior, core.SeverityInfo, "pause", map[string]string{
				"reason":   verdict.Reason,
				"duration": verdict.Delay.String(),
			})
			if err := c.sleep(ctx, verdict.Delay); err != nil {
				return result, err
			}
			opts.skipBehavior = true

		case VerdictPerform:
			if verdict.Delay > 0 {
				c.deps.Logger.Debug("spacing actions", zap.Duration("delay", verdict.Delay))
				if err := c.sleep(ctx, verdict.Delay); err != nil {
					return result, err
				}
				opts.skipBehavior, opts.skipDelay = true, true
				continue
			}
			return c.perform(ctx, target, result)
		}
	}
}

// Run processes targets from source until it is exhausted, the context is
// cancelled, or a fatal condition (vacation, crash, executor panic) occurs.
func (c *Controller) Run(ctx context.Context, source TargetSource) error {
	if err := c.checkResumed(ctx); err != nil {
		return err
	}

	c.setRunning(ctx, true)
	defer func() {
		c.setRunning(context.WithoutCancel(ctx), false)
	}()

	c.deps.Logger.Info("worker started", zap.String("session_id", c.Session().SessionID))
	for {
		target, ok, err := source.Next(ctx)
		if err != nil {
			return fmt.Errorf("next target: %w", err)
		}
		if !ok {
			c.deps.Logger.Info("target source exhausted")
			return nil
		}

		for {
			result, err := c.Process(ctx, target)
			if err == nil {
				break
			}

			var failure *apperrors.ActionExecutionFailure
			switch {
			case errors.As(err, &failure):
				c.deps.Logger.Warn("action failed, moving on",
					zap.String("target_id", target.ID),
					zap.Error(err))
			case errors.Is(err, apperrors.ErrDailyLimitReached):
				if c.cfg.ExitWhenExhausted || result.Verdict.Until.IsZero() {
					c.deps.Logger.Info("daily limit reached, stopping")
					return nil
				}
				c.deps.Logger.Info("daily limit reached, sleeping until next window",
					zap.Time("until", result.Verdict.Until))
				if err := c.sleepUntil(ctx, result.Verdict.Until); err != nil {
					return err
				}
				continue
			default:
				return err
			}
			break
		}
	}
}

func (c *Controller) perform(ctx context.Context, target core.Target, result Result) (Result, error) {
	if c.cfg.Research {
		plan := c.Behavior.ResearchPlan()
		if err := c.sleep(ctx, plan.Reading); err != nil {
			return result, err
		}
	}

	outcome, err := c.execute(ctx, target)
	if errors.Is(err, ErrExecutorPanic) {
		return result, err
	}
	// An action interrupted by shutdown is neither a failure nor a success.
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.deps.Logger.Info("action interrupted",
			zap.String("target_id", target.ID), zap.Error(ctxErr))
		return result, ctxErr
	}
	result.Outcome = outcome
	meta := map[string]string{"target_id": target.ID}

	if outcome.RateLimited {
		c.Quota.DetectRateLimited(ctx)
	}

	if err != nil || !outcome.Success {
		kind := outcome.ErrorKind
		if kind == "" {
			kind = "action_failed"
		}
		c.Risk.RecordAction(false, meta)
		c.Risk.RecordError(kind, meta)
		c.updateSession(ctx, func(s *core.SessionState) { s.FailedCount++ })
		c.deps.emit(ctx, core.CategoryAction, core.SeverityMedium, "action failed", map[string]string{
			"target_id": target.ID,
			"kind":      kind,
		})
		result.Anomalies = c.detect(ctx)

		if err == nil {
			detail := outcome.Detail
			if detail == "" {
				detail = "executor reported failure"
			}
			err = errors.New(detail)
		}
		return result, &apperrors.ActionExecutionFailure{TargetID: target.ID, Kind: kind, Err: err}
	}

	if err := c.Quota.RecordAction(ctx); err != nil {
		c.deps.Logger.Warn("action performed past the daily limit",
			zap.String("target_id", target.ID), zap.Error(err))
	}
	c.Risk.RecordAction(true, meta)
	result.Performed = true

	now := c.deps.Clock()
	completed := c.updateSession(ctx, func(s *core.SessionState) {
		s.ActionsCount++
		s.LastActionAt = &now
		s.LastHandledID = target.ID
	})
	c.markHandled(ctx, target.ID, "performed")
	c.deps.emit(ctx, core.CategoryAction, core.SeverityInfo, "action performed", map[string]string{
		"target_id": target.ID,
		"count":     strconv.Itoa(completed.ActionsCount),
	})
	result.Anomalies = c.detect(ctx)

	if brk := c.Behavior.AfterAction(completed.ActionsCount); brk.Kind == core.BehaviorPause {
		c.deps.Logger.Info("micro-break", zap.Duration("duration", brk.Duration))
		if err := c.sleep(ctx, brk.Duration); err != nil {
			return result, err
		}
	}
	return result, nil
}

// execute calls the executor, converting a panic into a crashed session.
func (c *Controller) execute(ctx context.Context, target core.Target) (outcome core.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("executor panic: %v", r)
			c.deps.Logger.Error("executor panicked",
				zap.String("target_id", target.ID),
				zap.String("panic", fmt.Sprint(r)))
			c.updateSession(ctx, func(s *core.SessionState) {
				s.Crashed = true
				s.CrashReason = reason
			})
			c.deps.emit(ctx, core.CategorySession, core.SeverityCritical, "session crashed", map[string]string{
				"target_id": target.ID,
				"reason":    reason,
			})
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, r)
		}
	}()
	return c.Executor.Perform(ctx, target)
}

func (c *Controller) detect(ctx context.Context) []core.Anomaly {
	anomalies := c.Risk.DetectAnomalies(ctx)
	if len(anomalies) > 0 && c.Risk.HealthStatus().Status == core.HealthCritical {
		c.deps.Logger.Warn("health critical, escalating to backoff")
		c.Quota.DetectRateLimited(ctx)
	}
	return anomalies
}

func (c *Controller) recordSkip(ctx context.Context, target core.Target, verdict Verdict) {
	detail := verdict.Skip.Detail
	if verdict.Behavior.Kind == core.BehaviorSkip {
		detail = verdict.Behavior.Reason
	}

	c.deps.Logger.Info("skipping target",
		zap.String("target_id", target.ID),
		zap.String("reason", verdict.Reason),
		zap.String("detail", detail))
	c.deps.emit(ctx, core.CategorySkip, core.SeverityInfo, "target skipped", map[string]string{
		"target_id": target.ID,
		"reason":    verdict.Reason,
		"detail":    detail,
	})

	if verdict.Skip.Reason == core.SkipChallenge {
		c.Quota.DetectRateLimited(ctx)
	}
	c.updateSession(ctx, func(s *core.SessionState) { s.SkippedCount++ })
	if verdict.Skip.Detail != DetailAlreadyHandled {
		c.markHandled(ctx, target.ID, "skipped:"+verdict.Reason)
	}
}

func (c *Controller) recordSubstitute(ctx context.Context, target core.Target) {
	if c.Substituter != nil {
		if err := c.Substituter.Substitute(ctx, target); err != nil {
			c.deps.Logger.Warn("substitute action failed",
				zap.String("target_id", target.ID), zap.Error(err))
		}
	}
	c.deps.emit(ctx, core.CategoryBehavior, core.SeverityInfo, "target substituted", map[string]string{
		"target_id": target.ID,
	})
	c.updateSession(ctx, func(s *core.SessionState) { s.SubstitutedCount++ })
	c.markHandled(ctx, target.ID, "substituted")
}

func (c *Controller) markHandled(ctx context.Context, id, outcome string) {
	if c.Handled == nil || id == "" {
		return
	}
	if err := c.Handled.MarkHandled(ctx, id, outcome); err != nil {
		c.deps.Logger.Warn("handled index not updated",
			zap.String("target_id", id),
			zap.Error(apperrors.NewPersistenceError("mark handled", err)))
	}
}

// nextDayStart is the first window start on the following calendar day.
func (c *Controller) nextDayStart(now time.Time) time.Time {
	local := now.In(c.Gate.Location())
	y, m, d := local.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, local.Location())
	return c.Gate.NextWindowStart(midnight)
}

func (c *Controller) sleepUntil(ctx context.Context, until time.Time) error {
	if until.IsZero() {
		return nil
	}
	return c.sleep(ctx, max(until.Sub(c.deps.Clock()), minWindowWait))
}

func (c *Controller) checkResumed(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureResumedLocked(ctx)
	if c.session.Crashed {
		return apperrors.ErrCrashUnacknowledged
	}
	return nil
}

func (c *Controller) setRunning(ctx context.Context, running bool) {
	c.updateSession(ctx, func(s *core.SessionState) { s.Running = running })
}

func (c *Controller) updateSession(ctx context.Context, fn func(*core.SessionState)) core.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureResumedLocked(ctx)
	fn(&c.session)
	c.saveSessionLocked(ctx, c.deps.Clock())
	return copySession(c.session)
}

// ensureResumedLocked loads the stored session when Resume was never called.
func (c *Controller) ensureResumedLocked(ctx context.Context) {
	if !c.resumed {
		c.resumeLocked(ctx)
	}
}

func (c *Controller) saveSessionLocked(ctx context.Context, now time.Time) {
	c.session.UpdatedAt = now
	if c.Sessions == nil {
		return
	}
	snapshot := copySession(c.session)
	if err := c.Sessions.SaveSession(ctx, &snapshot); err != nil {
		c.deps.Logger.Warn("session state not persisted",
			zap.Error(apperrors.NewPersistenceError("save session", err)))
	}
}

func newSession(now time.Time) core.SessionState {
	return core.SessionState{
		SessionID: uuid.NewString(),
		StartedAt: now,
		UpdatedAt: now,
	}
}

func copySession(s core.SessionState) core.SessionState {
	s.LastActionAt = copyTime(s.LastActionAt)
	return s
}
