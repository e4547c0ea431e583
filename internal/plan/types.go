// Package plan implements the build-plan data model of spec §3/§6: the
// typed, JSON-serializable description of packages, phases, and steps that
// the builder derives and the executor replays.
package plan

import (
	"fmt"
	"strings"
)

// FormatVersion is the only plan-shape version this package accepts.
// Version 1 plans are rejected with a migration error (see Parse).
const FormatVersion = 2

// Environment tags recognized for a Phase.
const (
	EnvHostSetup        = "host-setup"
	EnvAlpineSeed        = "alpine-seed"
	EnvSysrootToolchain  = "sysroot-toolchain"
	EnvRootfsSystem      = "rootfs-system"
	EnvRootfsFinalize    = "rootfs-finalize"
)

// EnvTag upper-cases an Environment constant for use as an environment
// variable suffix, e.g. EnvRootfsSystem ("rootfs-system") becomes
// "ROOTFS_SYSTEM" for BQ2_PRESERVE_OWNERSHIP_ROOTFS_SYSTEM.
func EnvTag(environment string) string {
	return strings.ToUpper(strings.ReplaceAll(environment, "-", "_"))
}

// Fixed phase ordering, spec §4.6.
var PhaseOrder = []string{
	"host-setup",
	"sysroot-from-alpine",
	"rootfs-from-sysroot",
	"system-from-sysroot",
	"tools-from-system",
	"finalize-rootfs",
}

// Step is a single build-step unit belonging to exactly one phase (spec §3).
type Step struct {
	Name           string            `json:"name"`
	Strategy       string            `json:"strategy"`
	Workdir        string            `json:"workdir"`
	ConfigureFlags []string          `json:"configure_flags"`
	Patches        []string          `json:"patches"`
	BuildDir       string            `json:"build_dir,omitempty"`
	InstallPrefix  string            `json:"install_prefix,omitempty"`
	DestDir        string            `json:"destdir,omitempty"`
	Env            map[string]string `json:"env"`
	CleanBuild     bool              `json:"clean_build"`
	Sources        *string           `json:"sources,omitempty"`
	ExtractSources *string           `json:"extract_sources,omitempty"`
	Packages       []string          `json:"packages,omitempty"`
	Content        *string           `json:"content,omitempty"`
}

// Phase is a named group of steps sharing environment and install defaults
// (spec §3).
type Phase struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Workspace     string            `json:"workspace"`
	Environment   string            `json:"environment"`
	InstallPrefix string            `json:"install_prefix"`
	DestDir       string            `json:"destdir,omitempty"`
	Env           map[string]string `json:"env"`
	Steps         []Step            `json:"steps"`
}

// StepIndex returns the index of the named step within the phase, or -1.
func (p *Phase) StepIndex(name string) int {
	for i, s := range p.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Plan is the ordered list of phases produced by the builder and replayed
// by the executor (spec §3, §6).
type Plan struct {
	FormatVersion int     `json:"format_version"`
	Phases        []Phase `json:"phases"`
}

// PhaseIndex returns the index of the named phase, or -1 if not found.
func (p *Plan) PhaseIndex(name string) int {
	for i, ph := range p.Phases {
		if ph.Name == name {
			return i
		}
	}
	return -1
}

// Phase looks up a phase by name.
func (p *Plan) Phase(name string) (*Phase, error) {
	i := p.PhaseIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("plan: unknown phase %q", name)
	}
	return &p.Phases[i], nil
}

// Validate checks the structural invariants of spec §3: unique step names
// within a phase, unique phase names within a plan.
func (p *Plan) Validate() error {
	if p.FormatVersion != FormatVersion {
		return &MigrationError{Found: p.FormatVersion}
	}
	seenPhase := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if ph.Name == "" {
			return fmt.Errorf("plan: phase with empty name")
		}
		if seenPhase[ph.Name] {
			return fmt.Errorf("plan: duplicate phase name %q", ph.Name)
		}
		seenPhase[ph.Name] = true

		seenStep := make(map[string]bool, len(ph.Steps))
		for _, s := range ph.Steps {
			if s.Name == "" {
				return fmt.Errorf("plan: phase %q: step with empty name", ph.Name)
			}
			if seenStep[s.Name] {
				return fmt.Errorf("plan: phase %q: duplicate step name %q", ph.Name, s.Name)
			}
			seenStep[s.Name] = true
		}
	}
	return nil
}

// MigrationError is raised when a plan document declares a format version
// this package does not understand (spec §9 Open Questions: version 1
// plans are rejected, never auto-migrated).
type MigrationError struct {
	Found int
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("plan: format_version %d is not supported (this build understands only version %d); migrate the plan by hand or regenerate it with sysroot-plan-write", e.Found, FormatVersion)
}
