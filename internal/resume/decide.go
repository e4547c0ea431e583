package resume

import (
	"fmt"
	"os"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

// Stage names for the orchestrator's stage list (spec §4.10).
const (
	StageDownloadSources = "download-sources"
	StagePlanWrite       = "plan-write"
	StageSysrootRunner   = "sysroot-runner"
	StageRootfsTarball   = "rootfs-tarball"
	StageComplete        = "complete"
)

// Decision is the outcome of the §4.8 resume procedure.
type Decision struct {
	Stage        string
	Reason       string
	ResumePhase  string
	ResumeStep   string
	PlanPath     string
	StatePath    string
}

// DecideInput bundles the on-disk facts Decide needs to inspect.
type DecideInput struct {
	// ExpectedArchivePaths are the cache paths every catalog package's
	// archive is expected to live at.
	ExpectedArchivePaths []string
	PlanPath             string
	OverridesPath        string
	StatePath            string
	OutputTarballPath    string
}

// Decide implements the §4.8 stage-selection procedure.
func Decide(in DecideInput) (*Decision, error) {
	for _, p := range in.ExpectedArchivePaths {
		if !exists(p) {
			return &Decision{
				Stage:     StageDownloadSources,
				Reason:    fmt.Sprintf("source archive missing from cache: %s", p),
				PlanPath:  in.PlanPath,
				StatePath: in.StatePath,
			}, nil
		}
	}

	if !exists(in.PlanPath) {
		return &Decision{
			Stage:     StagePlanWrite,
			Reason:    "no plan file on disk",
			PlanPath:  in.PlanPath,
			StatePath: in.StatePath,
		}, nil
	}

	p, err := plan.Load(in.PlanPath)
	if err != nil {
		return nil, fmt.Errorf("resume: decide: loading plan: %w", err)
	}

	planBytes, err := os.ReadFile(in.PlanPath)
	if err != nil {
		return nil, err
	}
	planDigest := plan.Digest(planBytes)

	overridesDigest := ""
	if in.OverridesPath != "" && exists(in.OverridesPath) {
		data, err := os.ReadFile(in.OverridesPath)
		if err != nil {
			return nil, err
		}
		overridesDigest = plan.Digest(data)
	}

	st, err := Load(in.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resume: decide: loading state: %w", err)
	}

	if st == nil {
		return &Decision{
			Stage:     StageSysrootRunner,
			Reason:    "no prior state; starting fresh",
			PlanPath:  in.PlanPath,
			StatePath: in.StatePath,
		}, nil
	}

	if st.PlanDigest != planDigest || st.OverridesDigest != overridesDigest {
		return &Decision{
			Stage:     StageSysrootRunner,
			Reason:    "state invalidated: plan or overrides changed since last recorded run",
			PlanPath:  in.PlanPath,
			StatePath: in.StatePath,
		}, nil
	}

	for _, ph := range p.Phases {
		for _, s := range ph.Steps {
			if !st.Completed(ph.Name, s.Name) {
				return &Decision{
					Stage:       StageSysrootRunner,
					Reason:      fmt.Sprintf("resuming at first incomplete step %s/%s", ph.Name, s.Name),
					ResumePhase: ph.Name,
					ResumeStep:  s.Name,
					PlanPath:    in.PlanPath,
					StatePath:   in.StatePath,
				}, nil
			}
		}
	}

	if in.OutputTarballPath != "" && !exists(in.OutputTarballPath) {
		return &Decision{
			Stage:     StageRootfsTarball,
			Reason:    "all steps complete; output rootfs tarball missing",
			PlanPath:  in.PlanPath,
			StatePath: in.StatePath,
		}, nil
	}

	return &Decision{
		Stage:     StageComplete,
		Reason:    "all steps complete",
		PlanPath:  in.PlanPath,
		StatePath: in.StatePath,
	}, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
