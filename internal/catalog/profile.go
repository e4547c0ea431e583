package catalog

import (
	"fmt"
	"os"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"gopkg.in/yaml.v3"
)

// ExtraStep is a hand-authored step spliced into a phase before or after
// the catalog-derived steps (e.g. "prepare-rootfs", "write-file" steps
// that have no corresponding source package).
type ExtraStep struct {
	Name           string            `yaml:"name"`
	Strategy       string            `yaml:"strategy"`
	Workdir        string            `yaml:"workdir"`
	ConfigureFlags []string          `yaml:"configure-flags"`
	Patches        []string          `yaml:"patches"`
	Env            plan.OrderedEnv   `yaml:"env"`
	Content        string            `yaml:"content"`
	FileEnv        map[string]string `yaml:"file-env"` // FILE_<n>_PATH/CONTENT, LINK_<n>_SRC/DEST passthrough
}

// PhaseSpec is one entry in the profile document consumed by Build to
// derive a concrete phase (spec §4.6: "each phase specification carries a
// name, description, workspace path, environment tag, default
// prefix/DESTDIR, default env, optional allowlist, optional pre/post
// extra steps, and per-package env/configure/patch override maps").
type PhaseSpec struct {
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description"`
	Workspace     string          `yaml:"workspace"`
	Environment   string          `yaml:"environment"`
	InstallPrefix string          `yaml:"install-prefix"`
	DestDir       string          `yaml:"destdir"`
	Env           plan.OrderedEnv `yaml:"env"`

	// Allowlist restricts and orders package selection. When empty,
	// selection falls back to catalog Package.Phases membership.
	Allowlist []string `yaml:"allowlist"`

	PreSteps  []ExtraStep `yaml:"pre-steps"`
	PostSteps []ExtraStep `yaml:"post-steps"`

	// Per-package overrides, keyed by package name.
	ConfigureOverrides map[string][]string          `yaml:"configure-overrides"`
	PatchOverrides     map[string][]string          `yaml:"patch-overrides"`
	EnvOverrides       map[string]plan.OrderedEnv    `yaml:"env-overrides"`
}

// Profile is the top-level phase-specification document (.bq2/profile.yaml).
type Profile struct {
	WorkspaceRoot string      `yaml:"workspace-root"`
	Phases        []PhaseSpec `yaml:"phases"`
}

// LoadProfile reads and validates a profile YAML document.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if err := ValidateProfile(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

var validEnvironments = map[string]bool{
	plan.EnvHostSetup:       true,
	plan.EnvAlpineSeed:      true,
	plan.EnvSysrootToolchain: true,
	plan.EnvRootfsSystem:     true,
	plan.EnvRootfsFinalize:   true,
}

// ValidateProfile checks required fields and known environment tags.
func ValidateProfile(p *Profile) error {
	if p.WorkspaceRoot == "" {
		return fmt.Errorf("profile: 'workspace-root' is required")
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("profile: at least one phase is required")
	}
	seen := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if ph.Name == "" {
			return fmt.Errorf("profile: phase with empty 'name'")
		}
		if seen[ph.Name] {
			return fmt.Errorf("profile: duplicate phase name %q", ph.Name)
		}
		seen[ph.Name] = true
		if ph.Workspace == "" {
			return fmt.Errorf("profile: phase %q: 'workspace' is required", ph.Name)
		}
		if !validEnvironments[ph.Environment] {
			return fmt.Errorf("profile: phase %q: unknown environment %q", ph.Name, ph.Environment)
		}
	}
	return nil
}
