// Package overrides implements the overrides document of spec §3/§4.9/§6:
// a phase-keyed set of adjustments applied to a plan at runtime without
// regenerating it, plus a diff helper used as a tooling convenience.
package overrides

// StepOverride adjusts a single step. Every field is optional; nil/empty
// means "leave as-is" except for the Add lists, which always append.
type StepOverride struct {
	Workdir              *string           `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	BuildDir             *string           `json:"build_dir,omitempty" yaml:"build-dir,omitempty"`
	InstallPrefix        *string           `json:"install_prefix,omitempty" yaml:"install-prefix,omitempty"`
	DestDir              *string           `json:"destdir,omitempty" yaml:"destdir,omitempty"`
	Env                  map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	CleanBuild           *bool             `json:"clean_build,omitempty" yaml:"clean-build,omitempty"`
	ConfigureFlags       []string          `json:"configure_flags,omitempty" yaml:"configure-flags,omitempty"`
	Patches              []string          `json:"patches,omitempty" yaml:"patches,omitempty"`
	ConfigureFlagsAppend []string          `json:"configure_flags_add,omitempty" yaml:"configure-flags-add,omitempty"`
	PatchesAppend        []string          `json:"patches_add,omitempty" yaml:"patches-add,omitempty"`
}

// PhaseOverride adjusts a phase and, optionally, restricts/reorders its
// package (step) allowlist and individual steps.
type PhaseOverride struct {
	InstallPrefix *string                  `json:"install_prefix,omitempty" yaml:"install-prefix,omitempty"`
	DestDir       *string                  `json:"destdir,omitempty" yaml:"destdir,omitempty"`
	Env           map[string]string        `json:"env,omitempty" yaml:"env,omitempty"`
	Packages      []string                 `json:"packages,omitempty" yaml:"packages,omitempty"`
	Steps         map[string]*StepOverride `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Overrides is keyed by phase name (spec §3).
type Overrides struct {
	Phases map[string]*PhaseOverride `json:"phases" yaml:"phases"`
}

// New returns an empty overrides document.
func New() *Overrides {
	return &Overrides{Phases: make(map[string]*PhaseOverride)}
}
