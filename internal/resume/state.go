// Package resume implements the build-state machine of spec §3 ("Build
// state") and §4.8 (the resume decision procedure): per-step completion
// records digest-anchored to the plan and overrides, failure reports, and
// the logic that picks the next stage to run.
package resume

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const FormatVersion = 1

// StepRef identifies one step within a phase.
type StepRef struct {
	Phase string `json:"phase"`
	Step  string `json:"step"`
}

// FailureRef records the step a run last failed on.
type FailureRef struct {
	StepRef
	Error      string `json:"error"`
	ReportPath string `json:"report_path,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

// State is the per-workspace build-progress record (spec §3, §6).
type State struct {
	FormatVersion int    `json:"format_version"`
	RootfsID      string `json:"rootfs_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PlanPath      string `json:"plan_path"`
	OverridesPath string `json:"overrides_path,omitempty"`

	PlanDigest      string `json:"plan_digest"`
	OverridesDigest string `json:"overrides_digest,omitempty"`

	ReportDir           string `json:"report_dir,omitempty"`
	InvalidationReason  string `json:"invalidation_reason,omitempty"`

	CurrentPhase   string              `json:"current_phase"`
	CompletedSteps map[string][]string `json:"completed_steps"`
	LastSuccess    *StepRef            `json:"last_success,omitempty"`
	LastFailure    *FailureRef         `json:"last_failure,omitempty"`
}

// New creates a fresh state with a random hex rootfs identifier.
func New(planPath, overridesPath string) *State {
	now := time.Now().UTC()
	return &State{
		FormatVersion:  FormatVersion,
		RootfsID:       randomHex(16),
		CreatedAt:      now,
		UpdatedAt:      now,
		PlanPath:       planPath,
		OverridesPath:  overridesPath,
		CompletedSteps: make(map[string][]string),
	}
}

// randomHex returns a random hex identifier, reusing uuid.New's CSPRNG
// (already an orc dependency for agent session ids) rather than wiring
// crypto/rand directly, then stripping the UUID's punctuation so the
// identifier reads as a plain hex string per spec §3.
func randomHex(n int) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	for len(id) < n {
		id += strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return id[:n]
}

// Load reads state from path. Returns (nil, nil) if no state file exists
// yet — callers construct a fresh one with New in that case.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.CompletedSteps == nil {
		s.CompletedSteps = make(map[string][]string)
	}
	return &s, nil
}

// Save writes the state atomically as pretty JSON.
func (s *State) Save(path string) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0644)
}

// Completed reports whether the named step in the named phase has already
// succeeded.
func (s *State) Completed(phase, step string) bool {
	for _, name := range s.CompletedSteps[phase] {
		if name == step {
			return true
		}
	}
	return false
}

// MarkSuccess records a step as complete (spec §3: "completed_steps[phase]
// is a subsequence of plan.phases[phase].steps"; callers are expected to
// invoke this in plan order so the invariant holds by construction).
func (s *State) MarkSuccess(phase, step string) {
	if !s.Completed(phase, step) {
		s.CompletedSteps[phase] = append(s.CompletedSteps[phase], step)
	}
	s.LastSuccess = &StepRef{Phase: phase, Step: step}
}

// MarkFailure records the step a run failed on.
func (s *State) MarkFailure(phase, step, errMsg, reportPath string, exitCode *int) {
	s.LastFailure = &FailureRef{
		StepRef:    StepRef{Phase: phase, Step: step},
		Error:      errMsg,
		ReportPath: reportPath,
		ExitCode:   exitCode,
	}
}

// FailedAt reports whether the last recorded failure refers to exactly
// this step (spec §4.7 step 3: disables clean-build suppression on retry).
func (s *State) FailedAt(phase, step string) bool {
	return s.LastFailure != nil && s.LastFailure.Phase == phase && s.LastFailure.Step == step
}

// Reconcile compares the state's recorded plan/overrides digests against
// the current ones. If either differs, completed-step progress is cleared
// and InvalidationReason is set (spec §3 invariant); it returns true when
// invalidation occurred. A state with no recorded PlanDigest is a fresh
// run with nothing to invalidate, so it is left untouched.
func (s *State) Reconcile(planDigest, overridesDigest string) bool {
	if s.PlanDigest == "" {
		s.PlanDigest = planDigest
		s.OverridesDigest = overridesDigest
		return false
	}
	if s.PlanDigest == planDigest && s.OverridesDigest == overridesDigest {
		return false
	}
	reason := "plan changed"
	if s.PlanDigest == planDigest {
		reason = "overrides changed"
	}
	s.PlanDigest = planDigest
	s.OverridesDigest = overridesDigest
	s.CompletedSteps = make(map[string][]string)
	s.LastSuccess = nil
	s.LastFailure = nil
	s.CurrentPhase = ""
	s.InvalidationReason = reason
	return true
}

// EnsureDir creates the parent directory structure for state/report files.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// DefaultPaths returns the well-known on-disk locations inside a rootfs
// (spec §6 "On-disk layout").
func DefaultPaths(rootfs string) (planPath, overridesPath, statePath, reportDir string) {
	base := filepath.Join(rootfs, "var", "lib")
	return filepath.Join(base, "sysroot-build-plan.json"),
		filepath.Join(base, "sysroot-build-overrides.json"),
		filepath.Join(base, "sysroot-build-state.json"),
		filepath.Join(base, "sysroot-build-reports")
}
