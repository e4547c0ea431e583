package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

// ReportFormatVersion is the only failure-report shape this package writes.
const ReportFormatVersion = 1

// reportPhase/reportStep mirror the failure-report schema of spec §7.
type reportPhase struct {
	Name          string            `json:"name"`
	Environment   string            `json:"environment"`
	Workspace     string            `json:"workspace"`
	InstallPrefix string            `json:"install_prefix"`
	DestDir       string            `json:"destdir"`
	Env           map[string]string `json:"env"`
}

type reportStep struct {
	Name           string            `json:"name"`
	Strategy       string            `json:"strategy"`
	Workdir        string            `json:"workdir"`
	InstallPrefix  string            `json:"install_prefix"`
	DestDir        string            `json:"destdir"`
	Env            map[string]string `json:"env"`
	EffectiveEnv   map[string]string `json:"effective_env"`
	ConfigureFlags []string          `json:"configure_flags"`
	Patches        []string          `json:"patches"`
}

// FailureReport is the JSON document written to the report directory on
// step failure (spec §7 "Failure report schema").
type FailureReport struct {
	FormatVersion int         `json:"format_version"`
	OccurredAt    time.Time   `json:"occurred_at"`
	Phase         reportPhase `json:"phase"`
	Step          reportStep  `json:"step"`
	Command       []string    `json:"command"`
	ExitCode      *int        `json:"exit_code"`
	Error         string      `json:"error"`
}

// BuildFailureReport assembles a FailureReport from the failing phase/step
// and the error raised by the strategy. occurredAt is injected by the
// caller rather than taken from time.Now here, so tests can pin it.
func BuildFailureReport(ph plan.Phase, s plan.Step, effectiveEnv map[string]string, occurredAt time.Time, err error) FailureReport {
	r := FailureReport{
		FormatVersion: ReportFormatVersion,
		OccurredAt:    occurredAt,
		Phase: reportPhase{
			Name:          ph.Name,
			Environment:   ph.Environment,
			Workspace:     ph.Workspace,
			InstallPrefix: ph.InstallPrefix,
			DestDir:       ph.DestDir,
			Env:           ph.Env,
		},
		Step: reportStep{
			Name:           s.Name,
			Strategy:       s.Strategy,
			Workdir:        s.Workdir,
			InstallPrefix:  s.InstallPrefix,
			DestDir:        s.DestDir,
			Env:            s.Env,
			EffectiveEnv:   effectiveEnv,
			ConfigureFlags: s.ConfigureFlags,
			Patches:        s.Patches,
		},
		Error: err.Error(),
	}

	if cf, ok := err.(*CommandFailedError); ok {
		r.Command = cf.Argv
		code := cf.ExitCode
		r.ExitCode = &code
	}
	return r
}

// WriteReport writes a failure report under dir, named per spec §6:
// "<timestamp>-<phase>-<step>-<rand>.json". Returns the path written.
func WriteReport(dir string, r FailureReport) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	rand := uuid.New().String()[:8]
	name := fmt.Sprintf("%s-%s-%s-%s.json", r.OccurredAt.UTC().Format("20060102T150405Z"), r.Phase.Name, r.Step.Name, rand)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
