package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/resume"
)

// fakeRunner records every invocation and always succeeds, per spec §8
// scenario 2 ("a fake command runner that records invocations").
type fakeRunner struct {
	invocations [][]string
}

func (f *fakeRunner) Run(ctx context.Context, dir string, env []string, argv []string) (CommandResult, error) {
	f.invocations = append(f.invocations, append([]string(nil), argv...))
	return CommandResult{Argv: argv, ExitCode: 0}, nil
}

// failingRunner fails on any argv whose first element matches FailOn.
type failingRunner struct {
	fakeRunner
	FailOn string
}

func (f *failingRunner) Run(ctx context.Context, dir string, env []string, argv []string) (CommandResult, error) {
	f.invocations = append(f.invocations, append([]string(nil), argv...))
	if len(argv) > 0 && argv[0] == f.FailOn {
		return CommandResult{Argv: argv, ExitCode: 1}, &CommandFailedError{Argv: argv, ExitCode: 1}
	}
	return CommandResult{Argv: argv, ExitCode: 0}, nil
}

func autotoolsPlan(workdir string) *plan.Plan {
	return &plan.Plan{
		FormatVersion: plan.FormatVersion,
		Phases: []plan.Phase{
			{
				Name:          "host-setup",
				Environment:   plan.EnvHostSetup,
				InstallPrefix: "/usr/local",
				Steps: []plan.Step{
					{Name: "m4", Strategy: "autotools", Workdir: workdir, ConfigureFlags: []string{"--disable-shared"}},
				},
			},
		},
	}
}

func TestExecutor_EmptyPlanErrors(t *testing.T) {
	e, err := New(Options{Plan: &plan.Plan{FormatVersion: plan.FormatVersion}, Rootfs: t.TempDir(), Runner: &fakeRunner{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an empty plan")
	}
}

func TestExecutor_AutotoolsStepSuccess(t *testing.T) {
	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "configure"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	e, err := New(Options{
		Plan:     autotoolsPlan(workdir),
		Rootfs:   t.TempDir(),
		Phase:    "host-setup",
		Runner:   runner,
		DryRun:   false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(runner.invocations) != 3 {
		t.Fatalf("got %d invocations, want 3 (configure, make, make install): %+v", len(runner.invocations), runner.invocations)
	}
	configureArgv := runner.invocations[0]
	if configureArgv[0] != "./configure" || configureArgv[1] != "--prefix=/usr/local" || configureArgv[2] != "--disable-shared" {
		t.Fatalf("configure argv = %+v", configureArgv)
	}
	if runner.invocations[1][0] != "make" {
		t.Fatalf("second argv = %+v, want make", runner.invocations[1])
	}
	installArgv := runner.invocations[2]
	if installArgv[0] != "make" || installArgv[len(installArgv)-1] != "install" {
		t.Fatalf("install argv = %+v", installArgv)
	}
}

func TestExecutor_DryRunSkipsCommands(t *testing.T) {
	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "configure"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{}
	e, err := New(Options{Plan: autotoolsPlan(workdir), Rootfs: t.TempDir(), Phase: "host-setup", Runner: runner, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(runner.invocations) != 0 {
		t.Fatalf("expected no invocations in dry-run mode, got %+v", runner.invocations)
	}
}

func TestExecutor_ResumeAfterFailure(t *testing.T) {
	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "configure"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(t.TempDir(), "state.json")

	p := autotoolsPlan(workdir)
	p.Phases[0].Steps = append(p.Phases[0].Steps, plan.Step{Name: "bash", Strategy: "autotools", Workdir: workdir})

	planBytes, err := plan.Serialize(p)
	if err != nil {
		t.Fatal(err)
	}
	digest := plan.Digest(planBytes)

	failing := &failingRunner{FailOn: "make"}
	e1, err := New(Options{
		Plan: p, Rootfs: t.TempDir(), Phase: "host-setup",
		Runner: failing, StatePath: statePath, PlanDigest: digest, Resume: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e1.Run(context.Background()); err == nil {
		t.Fatal("expected the first run to fail on make")
	}

	st, err := resume.Load(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if !st.FailedAt("host-setup", "m4") {
		t.Fatal("expected state to record the m4 failure")
	}

	succeeding := &fakeRunner{}
	e2, err := New(Options{
		Plan: p, Rootfs: t.TempDir(), Phase: "host-setup",
		Runner: succeeding, StatePath: statePath, PlanDigest: digest, Resume: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	st2, err := resume.Load(statePath)
	if err != nil {
		t.Fatal(err)
	}
	if !st2.Completed("host-setup", "m4") || !st2.Completed("host-setup", "bash") {
		t.Fatalf("expected both steps completed after resume, got %+v", st2.CompletedSteps)
	}
}

func TestExecutor_DigestInvalidationRestartsFromScratch(t *testing.T) {
	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "configure"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(t.TempDir(), "state.json")
	p := autotoolsPlan(workdir)

	st := resume.New("", "")
	st.PlanDigest = "stale"
	st.MarkSuccess("host-setup", "m4")
	if err := st.Save(statePath); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	e, err := New(Options{
		Plan: p, Rootfs: t.TempDir(), Phase: "host-setup",
		Runner: runner, StatePath: statePath, PlanDigest: "fresh", Resume: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(runner.invocations) == 0 {
		t.Fatal("expected the step to re-run after digest invalidation cleared prior completion")
	}
}

func TestExecutor_PackageFilterUnmatchedNameErrors(t *testing.T) {
	workdir := t.TempDir()
	p := autotoolsPlan(workdir)
	e, err := New(Options{Plan: p, Rootfs: t.TempDir(), Phase: "host-setup", Packages: []string{"does-not-exist"}, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an unmatched package filter")
	}
}

func TestEffectiveEnv_MergeAndNativeOverlay(t *testing.T) {
	ph := &plan.Phase{Env: map[string]string{"A": "1"}, InstallPrefix: "/sysroot"}
	s := &plan.Step{Env: map[string]string{"A": "2", "PATH": "/sysroot/bin"}}

	env := EffectiveEnv(ph, s, true, "/sysroot")
	if env["A"] != "2" {
		t.Fatalf("A = %q, want step value to win", env["A"])
	}
	if env["CC"] != "clang" {
		t.Fatalf("CC = %q, want clang overlay in rootfs", env["CC"])
	}
	if env["PATH"] != "/usr/bin:/sysroot/bin" {
		t.Fatalf("PATH = %q", env["PATH"])
	}
	if env["LD_LIBRARY_PATH"] != "/sysroot/lib" {
		t.Fatalf("LD_LIBRARY_PATH = %q", env["LD_LIBRARY_PATH"])
	}
}

func TestInstallPrefixAndDestDir_StepOverridesPhase(t *testing.T) {
	ph := &plan.Phase{InstallPrefix: "/usr", DestDir: "/stage"}
	s := &plan.Step{}
	if InstallPrefix(ph, s) != "/usr" {
		t.Fatal("expected phase default when step is unset")
	}
	if DestDir(ph, s) != "/stage" {
		t.Fatal("expected phase default when step is unset")
	}

	s.InstallPrefix = "/opt"
	s.DestDir = "/other-stage"
	if InstallPrefix(ph, s) != "/opt" {
		t.Fatal("expected step value to win")
	}
	if DestDir(ph, s) != "/other-stage" {
		t.Fatal("expected step value to win")
	}
}

func TestDestPath(t *testing.T) {
	if got := DestPath("", "/usr/lib"); got != "/usr/lib" {
		t.Fatalf("got %q", got)
	}
	if got := DestPath("/stage", "/usr/lib"); got != filepath.Join("/stage", "/usr/lib") {
		t.Fatalf("got %q", got)
	}
}
