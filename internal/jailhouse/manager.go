package jailhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"poudctl/internal/audit"
	"poudctl/internal/executor"
	"poudctl/internal/metrics"
	"poudctl/pkg/jailspec"
)

// Manager reconciles whole manifests against the host and keeps a
// persisted record of every jail it manages.
type Manager struct {
	layout    Layout
	exec      executor.Executor
	applier   *Applier
	statePath string
	audit     audit.Recorder
	logger    *slog.Logger

	runMu   sync.Mutex   // serializes reconcile passes
	mu      sync.RWMutex // protects jails and lastRun
	jails   map[string]*JailState
	lastRun *RunReport
}

// JailState is what poudctl last applied for one jail.
type JailState struct {
	Name        string          `json:"name"`
	JailName    string          `json:"jail_name"`
	Version     string          `json:"version"`
	Arch        string          `json:"arch,omitempty"`
	PortsTree   string          `json:"ports_tree"`
	Ensure      jailspec.Ensure `json:"ensure"`
	CronEnabled bool            `json:"cron_enabled"`
	LastResult  string          `json:"last_result"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Config holds configuration for creating a new Manager.
type Config struct {
	Layout    Layout
	Executor  executor.Executor
	StatePath string
	Audit     audit.Recorder // optional
	Logger    *slog.Logger
}

// Desired is everything a manifest declares.
type Desired struct {
	Global     map[string]string
	PortsTrees []jailspec.PortsTreeSpec
	Jails      []jailspec.JailSpec
}

// RunReport summarizes one reconcile pass.
type RunReport struct {
	RunID    string             `json:"run_id"`
	Started  time.Time          `json:"started"`
	Duration time.Duration      `json:"duration"`
	Reports  []*Report          `json:"-"`
	Warnings []jailspec.Warning `json:"warnings,omitempty"`
	Changed  int                `json:"changed"`
	Failed   int                `json:"failed"`
	Skipped  int                `json:"skipped"`
	Error    string             `json:"error,omitempty"`
}

// Err joins the failures of every subject in the run.
func (r *RunReport) Err() error {
	errs := lo.FilterMap(r.Reports, func(rep *Report, _ int) (error, bool) {
		err := rep.Err()
		return err, err != nil
	})
	return errors.Join(errs...)
}

type plannedSubject struct {
	plan *Plan
	jail *jailspec.JailSpec
}

// NewManager creates a new manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.StatePath == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Layout == (Layout{}) {
		cfg.Layout = DefaultLayout()
	}

	return &Manager{
		layout:    cfg.Layout,
		exec:      cfg.Executor,
		applier:   NewApplier(cfg.Executor, cfg.Logger),
		statePath: cfg.StatePath,
		audit:     cfg.Audit,
		jails:     make(map[string]*JailState),
		logger:    cfg.Logger.With("component", "jailhouse"),
	}, nil
}

// Start loads persisted state and ensures the config root exists.
func (m *Manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.layout.ConfigRoot, 0o755); err != nil {
		return fmt.Errorf("create config root: %w", err)
	}

	// a missing state file is normal on first run; a corrupt one is not fatal
	if err := m.LoadState(); err != nil {
		m.logger.Warn("could not load state", "error", err)
	}

	if err := m.ReconcileState(ctx); err != nil {
		m.logger.Warn("could not reconcile state", "error", err)
	}

	m.logger.Info("started", "config_root", m.layout.ConfigRoot, "state", m.statePath)
	return nil
}

// Layout returns the host layout the manager writes to.
func (m *Manager) Layout() Layout {
	return m.layout
}

// Plan validates desired and computes every plan without side effects.
// Plans come back in apply order: global config, ports trees, then jails
// sorted by name.
func (m *Manager) Plan(desired Desired) ([]*Plan, error) {
	subjects, err := m.plan(desired)
	if err != nil {
		return nil, err
	}
	return lo.Map(subjects, func(s plannedSubject, _ int) *Plan { return s.plan }), nil
}

func (m *Manager) plan(desired Desired) ([]plannedSubject, error) {
	if err := checkUnique(desired); err != nil {
		return nil, err
	}

	r := NewReconciler(m.layout, desired.PortsTrees)
	var subjects []plannedSubject

	global, err := r.PlanGlobal(desired.Global)
	if err != nil {
		return nil, fmt.Errorf("plan global config: %w", err)
	}
	subjects = append(subjects, plannedSubject{plan: global})

	for _, tree := range desired.PortsTrees {
		plan, err := r.PlanPortsTree(tree)
		if err != nil {
			return nil, fmt.Errorf("plan ports tree %s: %w", tree.Name, err)
		}
		subjects = append(subjects, plannedSubject{plan: plan})
	}

	jails := append([]jailspec.JailSpec(nil), desired.Jails...)
	sort.Slice(jails, func(i, j int) bool { return jails[i].Name < jails[j].Name })
	for i := range jails {
		plan, err := r.PlanJail(jails[i])
		if err != nil {
			return nil, fmt.Errorf("plan jail %s: %w", jails[i].Name, err)
		}
		spec := jails[i].WithDefaults()
		subjects = append(subjects, plannedSubject{plan: plan, jail: &spec})
	}
	return subjects, nil
}

func checkUnique(desired Desired) error {
	if dups := lo.FindDuplicates(lo.Map(desired.PortsTrees, func(t jailspec.PortsTreeSpec, _ int) string {
		return t.Name
	})); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate ports tree %q", jailspec.ErrInvalidSpec, dups[0])
	}
	if dups := lo.FindDuplicates(lo.Map(desired.Jails, func(j jailspec.JailSpec, _ int) string {
		return j.Name
	})); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate jail %q", jailspec.ErrInvalidSpec, dups[0])
	}
	if dups := lo.FindDuplicates(lo.Map(desired.Jails, func(j jailspec.JailSpec, _ int) string {
		return j.EffectiveJailName()
	})); len(dups) > 0 {
		return fmt.Errorf("%w: two jails map to poudriere jail %q", jailspec.ErrInvalidSpec, dups[0])
	}
	return nil
}

// Reconcile plans desired and applies it. Planning errors abort the pass
// before anything touches the host. Operation failures do not stop other
// subjects; they are joined into the returned error.
func (m *Manager) Reconcile(ctx context.Context, desired Desired) (*RunReport, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	run := &RunReport{RunID: uuid.NewString(), Started: time.Now()}
	logger := m.logger.With("run", run.RunID)

	subjects, err := m.plan(desired)
	if err != nil {
		run.Error = err.Error()
		run.Duration = time.Since(run.Started)
		metrics.RecordReconcile("error", run.Duration)
		m.setLastRun(run)
		return run, err
	}

	for _, s := range subjects {
		for _, w := range s.plan.Warnings {
			logger.Warn(w.Message, "code", w.Code, "subject", s.plan.Subject)
			metrics.RecordWarning(string(w.Code))
		}
		run.Warnings = append(run.Warnings, s.plan.Warnings...)
	}

	for _, s := range subjects {
		if len(s.plan.Operations) == 0 {
			continue
		}
		report := m.applier.Apply(ctx, s.plan)
		run.Reports = append(run.Reports, report)
		m.recordReport(run, report)
		if s.jail != nil {
			m.updateJailState(*s.jail, report)
		}
	}

	if err := m.SaveState(); err != nil {
		logger.Error("failed to save state", "error", err)
	}

	run.Duration = time.Since(run.Started)
	result := "success"
	runErr := run.Err()
	if runErr != nil {
		result = "error"
		run.Error = runErr.Error()
	}
	metrics.RecordReconcile(result, run.Duration)
	m.setLastRun(run)

	logger.Info("reconcile finished",
		"changed", run.Changed, "failed", run.Failed, "skipped", run.Skipped,
		"duration", run.Duration)
	return run, runErr
}

func (m *Manager) recordReport(run *RunReport, report *Report) {
	for _, res := range report.Results {
		switch res.Status {
		case StatusChanged:
			run.Changed++
		case StatusFailed:
			run.Failed++
		case StatusSkipped:
			run.Skipped++
		}
		metrics.RecordOperation(string(res.Kind), string(res.Status))

		if m.audit == nil {
			continue
		}
		entry := audit.Entry{
			RunID:    run.RunID,
			Subject:  report.Subject,
			Op:       res.Key,
			Kind:     string(res.Kind),
			Status:   string(res.Status),
			Duration: float64(res.Duration.Microseconds()) / 1000,
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		if err := m.audit.Record(entry); err != nil {
			m.logger.Warn("audit write failed", "error", err)
		}
	}
}

func (m *Manager) updateJailState(spec jailspec.JailSpec, report *Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "success"
	if report.Failed() {
		result = "failed"
	}

	// a cleanly destroyed jail is no longer managed
	if spec.Ensure == jailspec.EnsureAbsent && result == "success" {
		delete(m.jails, spec.Name)
		metrics.SetManagedJails(len(m.jails))
		return
	}

	m.jails[spec.Name] = &JailState{
		Name:        spec.Name,
		JailName:    spec.EffectiveJailName(),
		Version:     spec.Version,
		Arch:        spec.Arch,
		PortsTree:   spec.PortsTree,
		Ensure:      spec.Ensure,
		CronEnabled: spec.Cron.Enable,
		LastResult:  result,
		UpdatedAt:   time.Now(),
	}
	metrics.SetManagedJails(len(m.jails))
}

func (m *Manager) setLastRun(run *RunReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun = run
}

// LastRun returns the most recent pass, or nil before the first one.
func (m *Manager) LastRun() *RunReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastRun == nil {
		return nil
	}
	run := *m.lastRun
	return &run
}

// ListJails returns every managed jail sorted by name.
func (m *Manager) ListJails() []*JailState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jails := make([]*JailState, 0, len(m.jails))
	for _, state := range m.jails {
		stateCopy := *state
		jails = append(jails, &stateCopy)
	}
	sort.Slice(jails, func(i, j int) bool { return jails[i].Name < jails[j].Name })
	return jails
}

// ErrJailNotFound is returned by GetJail for unmanaged names.
var ErrJailNotFound = errors.New("jail not found")

// GetJail returns the state of a specific jail.
func (m *Manager) GetJail(name string) (*JailState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.jails[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJailNotFound, name)
	}
	stateCopy := *state
	return &stateCopy, nil
}
