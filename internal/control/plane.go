package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/core"
	"github.com/cadencectl/cadence/internal/core/engine"
	"github.com/cadencectl/cadence/internal/core/executor"
	"github.com/cadencectl/cadence/internal/core/statefile"
	"github.com/cadencectl/cadence/internal/core/store"
	"github.com/cadencectl/cadence/internal/metrics"
	"github.com/cadencectl/cadence/internal/output"
	"github.com/cadencectl/cadence/internal/recorder"
)

// ErrNoEventLog is returned when the configured backend keeps no control
// record history.
var ErrNoEventLog = errors.New("the file state backend keeps no event log; use the libsql or sqlite driver")

// Options overrides collaborators Open would otherwise build from config.
type Options struct {
	Executor    engine.Executor
	Substituter engine.Substituter
	Clock       engine.Clock
	Rand        engine.Rand
	Sleep       engine.SleepFunc
	Logger      *zap.Logger
	Recorder    recorder.Recorder
}

// Plane owns the engine components and their persistence for one process.
type Plane struct {
	Config     *config.Config
	Engine     config.EngineConfig
	Logger     *zap.Logger
	Gate       *engine.WindowGate
	Quota      *engine.QuotaLimiter
	Behavior   *engine.BehaviorInjector
	Classifier *engine.DetectionClassifier
	Risk       *engine.RiskMonitor
	Controller *engine.Controller

	// Store is nil for the file driver.
	Store *store.Store

	sessions engine.SessionStore
	clock    engine.Clock
	live     bool
}

// Open builds every component from cfg and opens the state backend.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Plane, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	ecfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	rnd := opts.Rand
	if rnd == nil {
		if cfg.Worker.Seed != 0 {
			rnd = engine.NewRand(cfg.Worker.Seed)
		} else {
			rnd = engine.NewTimeSeededRand()
		}
	}

	p := &Plane{Config: cfg, Engine: ecfg, Logger: logger, clock: clock}

	var (
		quotaStore engine.QuotaStore
		handled    engine.HandledIndex
	)
	recorders := []recorder.Recorder{recorder.NewLog(logger.Named("records")), metrics.Recorder()}
	switch cfg.Store.Driver {
	case config.DriverFile:
		files, err := statefile.New(cfg.Store.StateDir)
		if err != nil {
			return nil, err
		}
		quotaStore, p.sessions = files, files
	default:
		db, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		p.Store = db
		quotaStore, p.sessions, handled = db, db, db
		recorders = append(recorders, recorder.NewStore(db, logger))
	}
	if opts.Recorder != nil {
		recorders = append(recorders, opts.Recorder)
	}

	deps := engine.Deps{
		Clock:    clock,
		Rand:     rnd,
		Logger:   logger,
		Recorder: recorder.Multi(recorders...),
	}

	if err := p.build(ctx, deps, quotaStore, handled, opts); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Plane) build(ctx context.Context, deps engine.Deps, quotaStore engine.QuotaStore, handled engine.HandledIndex, opts Options) error {
	var err error
	if p.Gate, err = engine.NewWindowGate(p.Engine.Window, deps.Rand); err != nil {
		return err
	}
	if p.Quota, err = engine.NewQuotaLimiter(ctx, p.Engine.Quota, quotaStore, p.Gate.QuotaMultiplier, deps); err != nil {
		return err
	}
	if p.Behavior, err = engine.NewBehaviorInjector(p.Engine.Behavior, deps); err != nil {
		return err
	}
	if p.Classifier, err = engine.NewDetectionClassifier(p.Engine.Classifier, handled, deps); err != nil {
		return err
	}
	if p.Risk, err = engine.NewRiskMonitor(p.Engine.Risk, deps); err != nil {
		return err
	}

	exec, sub := opts.Executor, opts.Substituter
	if exec == nil {
		built, builtSub, err := executor.New(p.Config.Executor, deps.Logger)
		if err != nil {
			return err
		}
		exec = built
		if sub == nil {
			sub = builtSub
		}
	}

	p.Controller, err = engine.NewController(engine.Components{
		Gate:        p.Gate,
		Quota:       p.Quota,
		Behavior:    p.Behavior,
		Classifier:  p.Classifier,
		Risk:        p.Risk,
		Executor:    exec,
		Substituter: sub,
		Sessions:    p.sessions,
		Handled:     handled,
	}, p.Engine.Controller, opts.Sleep, deps)
	return err
}

// MarkLive records that this process runs the worker, so in-memory risk
// health is meaningful in status reports.
func (p *Plane) MarkLive() {
	p.live = true
}

// Status gathers quota, session, window and (when live) health. The
// session is read from the backend without resuming it, so it is safe to
// call while a worker runs in another process.
func (p *Plane) Status(ctx context.Context) (*output.StatusReport, error) {
	if !p.live {
		if err := p.Quota.Reload(ctx); err != nil {
			return nil, err
		}
	}
	report := &output.StatusReport{
		Quota:  p.Quota.Progress(),
		Window: p.Window(p.clock()),
	}

	if p.live {
		report.Session = p.Controller.Session()
		health := p.Risk.HealthStatus()
		report.Health = &health
	} else {
		session, err := p.sessions.LoadSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if session != nil {
			report.Session = *session
		}
	}

	if p.Store != nil {
		counts, err := p.Store.HandledCounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("handled counts: %w", err)
		}
		report.Handled = counts
	}
	return report, nil
}

// Window describes the gate at now.
func (p *Plane) Window(now time.Time) output.WindowReport {
	loc := p.Gate.Location()
	now = now.In(loc)

	windows := make([]string, 0, len(p.Engine.Window.Windows))
	for _, w := range p.Engine.Window.Windows {
		windows = append(windows, w.Start.String()+"-"+w.End.String())
	}

	report := output.WindowReport{
		Now:        now,
		Timezone:   loc.String(),
		Active:     p.Gate.IsActive(now),
		LightDay:   p.Gate.IsLightDay(now),
		Multiplier: p.Gate.QuotaMultiplier(now),
		NightBlock: p.Gate.InNightBlock(now),
		Vacation:   p.Gate.Vacation(),
		Windows:    windows,
	}
	if !report.Active {
		report.NextStart = p.Gate.NextWindowStart(now)
	}
	return report
}

// Evaluate returns the controller's verdict for target without
// performing it, and counts the decision.
func (p *Plane) Evaluate(ctx context.Context, target core.Target) engine.Verdict {
	verdict := p.Controller.Evaluate(ctx, target)
	metrics.RecordDecision(string(verdict.Kind))
	return verdict
}

// RiskExport dumps the in-memory risk monitor.
func (p *Plane) RiskExport() engine.RiskExport {
	return p.Risk.Export()
}

// Events lists persisted control records, newest first.
func (p *Plane) Events(ctx context.Context, category string, since time.Time, limit int) ([]core.ControlRecord, error) {
	if p.Store == nil {
		return nil, ErrNoEventLog
	}
	return p.Store.ListEvents(ctx, store.EventQuery{
		Category: core.RecordCategory(category),
		Since:    since,
		Limit:    limit,
	})
}

// Snapshot publishes quota and health gauges.
func (p *Plane) Snapshot() {
	metrics.SetQuota(p.Quota.Progress())
	metrics.SetHealth(p.Risk.HealthStatus())
}

// Close releases the state backend.
func (p *Plane) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}
