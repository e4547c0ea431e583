package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/embedconsult/bootstrap-qcow2/internal/metrics"
	"github.com/embedconsult/bootstrap-qcow2/internal/overrides"
	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/resume"
	"github.com/embedconsult/bootstrap-qcow2/internal/ux"
)

// RootfsMarker names the file whose presence in a rootfs root means the
// executor is already running inside it (spec §4.7 "Rootfs-only phases").
const RootfsMarker = ".bq2-rootfs"

// NamespaceEntry is invoked when a rootfs-only phase must run but the
// marker is absent: it must perform namespace entry and then return with
// the marker visible to the current process (spec §4.7 "Rootfs-only
// phases": "the executor enters it ... before running"). The orchestrator
// supplies it (reexecNamespace, which runs internal/nsentry through the
// sysroot-namespace subcommand in a child process); injected here so this
// package stays testable without
// real unshare/mount/pivot_root syscalls (spec §8 scenario: namespace
// entry is exercised via a fake).
type NamespaceEntry func(ctx context.Context, rootfs string, extraBinds []string) error

// Options is the top-level contract of spec §4.7.
type Options struct {
	Plan               *plan.Plan
	Rootfs             string
	Phase              string // "" = default, "all" = every phase
	Packages           []string
	Overrides          *overrides.Overrides
	OverridesDigest    string
	PlanDigest         string
	ReportDir          string
	DryRun             bool
	StatePath          string
	Resume             bool
	AllowOutsideRootfs bool
	ExtraBinds         []string

	Runner    CommandRunner
	Namespace NamespaceEntry
	Callbacks *Callbacks
	Log       *logrus.Entry
}

// Executor replays a plan step by step (spec §4.7).
type Executor struct {
	opts       Options
	dispatcher *Dispatcher
	state      *resume.State
}

// New constructs an Executor, loading or creating state as opts dictate.
func New(opts Options) (*Executor, error) {
	if opts.Runner == nil {
		opts.Runner = NewDefaultRunner()
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Overrides != nil {
		merged, err := overrides.Apply(opts.Plan, opts.Overrides)
		if err != nil {
			return nil, err
		}
		opts.Plan = merged
	}

	var st *resume.State
	if opts.StatePath != "" {
		loaded, err := resume.Load(opts.StatePath)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			st = resume.New(opts.StatePath, "")
		} else {
			st = loaded
		}
		if st.Reconcile(opts.PlanDigest, opts.OverridesDigest) {
			opts.Log.WithField("reason", st.InvalidationReason).Warn("state invalidated")
		}
	}

	return &Executor{opts: opts, dispatcher: NewDispatcher(), state: st}, nil
}

// selectPhases implements spec §4.7 "Phase selection".
func (e *Executor) selectPhases() ([]plan.Phase, error) {
	p := e.opts.Plan
	if e.opts.Phase == "all" {
		return append([]plan.Phase(nil), p.Phases...), nil
	}
	if e.opts.Phase != "" {
		ph, err := p.Phase(e.opts.Phase)
		if err != nil {
			return nil, err
		}
		return []plan.Phase{*ph}, nil
	}

	if e.markerPresent() {
		for _, ph := range p.Phases {
			if strings.HasPrefix(ph.Environment, "rootfs-") {
				return []plan.Phase{ph}, nil
			}
		}
	}
	if len(p.Phases) == 0 {
		return nil, nil
	}
	return []plan.Phase{p.Phases[0]}, nil
}

// filterPackages implements spec §4.7 "Filtering" (package subset).
func filterPackages(ph plan.Phase, names []string) (plan.Phase, error) {
	if len(names) == 0 {
		return ph, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := ph
	out.Steps = nil
	matched := make(map[string]bool, len(names))
	for _, s := range ph.Steps {
		if want[s.Name] {
			out.Steps = append(out.Steps, s)
			matched[s.Name] = true
		}
	}
	var missing []string
	for _, n := range names {
		if !matched[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return plan.Phase{}, fmt.Errorf("executor: phase %q: unmatched package names: %s", ph.Name, strings.Join(missing, ", "))
	}
	return out, nil
}

// filterResumed drops steps already marked complete in state (spec §4.7
// "Filtering": resume).
func (e *Executor) filterResumed(ph plan.Phase) plan.Phase {
	if e.state == nil || !e.opts.Resume {
		return ph
	}
	out := ph
	out.Steps = nil
	for _, s := range ph.Steps {
		if !e.state.Completed(ph.Name, s.Name) {
			out.Steps = append(out.Steps, s)
		}
	}
	return out
}

func (e *Executor) markerPresent() bool {
	_, err := os.Stat(filepath.Join(e.opts.Rootfs, RootfsMarker))
	return err == nil
}

// Run executes the selected phases in plan order, per spec §4.7.
func (e *Executor) Run(ctx context.Context) error {
	if len(e.opts.Plan.Phases) == 0 {
		return fmt.Errorf("executor: build plan is empty")
	}

	phases, err := e.selectPhases()
	if err != nil {
		return err
	}
	total := len(phases)

	for i, ph := range phases {
		filtered, err := filterPackages(ph, e.opts.Packages)
		if err != nil {
			return err
		}
		filtered = e.filterResumed(filtered)
		if len(filtered.Steps) == 0 {
			ux.PhaseSkip(i, ph.Name)
			continue
		}

		ux.PhaseHeader(i, total, filtered)
		phaseStart := time.Now()

		if err := e.ensureRootfsEntry(ctx, filtered); err != nil {
			return err
		}

		for _, s := range filtered.Steps {
			if err := e.runStep(ctx, filtered, s); err != nil {
				ux.ResumeHint(e.opts.Rootfs)
				return err
			}
		}

		ux.PhaseComplete(i, time.Since(phaseStart))

		if e.state != nil {
			e.state.CurrentPhase = ph.Name
			if e.opts.StatePath != "" {
				if err := e.state.Save(e.opts.StatePath); err != nil {
					return err
				}
			}
		}
	}
	ux.Success(total)
	return nil
}

// ensureRootfsEntry triggers namespace entry when a rootfs-only phase must
// run but the marker is absent (spec §4.7 "Rootfs-only phases").
func (e *Executor) ensureRootfsEntry(ctx context.Context, ph plan.Phase) error {
	if !strings.HasPrefix(ph.Environment, "rootfs-") {
		return nil
	}
	if e.markerPresent() {
		return nil
	}
	if e.opts.AllowOutsideRootfs {
		return nil
	}
	if _, err := os.Stat(e.opts.Rootfs); err != nil {
		return fmt.Errorf("executor: phase %q requires rootfs %q, which does not exist", ph.Name, e.opts.Rootfs)
	}
	if e.opts.Namespace == nil {
		return fmt.Errorf("executor: phase %q requires namespace entry but none was configured", ph.Name)
	}
	binds := append([]string{e.opts.Rootfs + ":/workspace"}, e.opts.ExtraBinds...)
	return e.opts.Namespace(ctx, e.opts.Rootfs, binds)
}

// runStep executes one step (spec §4.7 "Step execution").
func (e *Executor) runStep(ctx context.Context, ph plan.Phase, s plan.Step) error {
	inRootfs := e.markerPresent()
	env := EffectiveEnv(&ph, &s, inRootfs, ph.InstallPrefix)
	envList := BuildEnvList(env)

	rootfsKind := "seed"
	if inRootfs {
		rootfsKind = "workspace"
	} else if ph.Environment == plan.EnvAlpineSeed {
		rootfsKind = "alpine"
	}
	e.opts.Log.Infof("Building %s in %s (phase=%s, rootfs=%s)", s.Name, s.Workdir, ph.Name, rootfsKind)
	ux.StepHeader(ph, s, rootfsKind)

	if e.state != nil && e.state.FailedAt(ph.Name, s.Name) {
		s.CleanBuild = false
	}

	if e.opts.DryRun {
		return nil
	}

	sc := &StrategyContext{
		Step:      s,
		Phase:     ph,
		EnvMap:    env,
		EnvList:   envList,
		Runner:    e.opts.Runner,
		Log:       e.opts.Log,
		Callbacks: e.opts.Callbacks,
	}

	stepStart := time.Now()
	if err := e.dispatcher.Dispatch(ctx, sc); err != nil {
		metrics.IncStepFailure(ph.Name, s.Name)
		return e.handleStepFailure(ph, s, env, err)
	}
	stepDuration := time.Since(stepStart)
	metrics.ObserveStep(ph.Name, s.Name, strategyOf(s), stepDuration)
	ux.StepComplete(s.Name, stepDuration)

	if e.state != nil {
		e.state.MarkSuccess(ph.Name, s.Name)
		if e.opts.StatePath != "" {
			if serr := e.state.Save(e.opts.StatePath); serr != nil {
				return serr
			}
		}
	}
	return nil
}

func strategyOf(s plan.Step) string {
	if s.Strategy == "" {
		return "autotools"
	}
	return s.Strategy
}

func (e *Executor) handleStepFailure(ph plan.Phase, s plan.Step, env map[string]string, stepErr error) error {
	report := BuildFailureReport(ph, s, env, time.Now().UTC(), stepErr)

	var reportPath string
	if e.opts.ReportDir != "" {
		path, werr := WriteReport(e.opts.ReportDir, report)
		if werr == nil {
			reportPath = path
		} else {
			e.opts.Log.WithError(werr).Error("failed to write failure report")
		}
	}

	if e.state != nil {
		e.state.MarkFailure(ph.Name, s.Name, stepErr.Error(), reportPath, report.ExitCode)
		if e.opts.StatePath != "" {
			if serr := e.state.Save(e.opts.StatePath); serr != nil {
				e.opts.Log.WithError(serr).Error("failed to persist failure state")
			}
		}
	}

	if reportPath != "" {
		e.opts.Log.Errorf("step %q in phase %q failed: %v (see %s)", s.Name, ph.Name, stepErr, reportPath)
	} else {
		e.opts.Log.Errorf("step %q in phase %q failed: %v", s.Name, ph.Name, stepErr)
	}
	ux.StepFail(ph.Name, s.Name, stepErr.Error(), reportPath)
	return stepErr
}
