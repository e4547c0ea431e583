package overrides

import (
	"fmt"
	"reflect"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

// FromDiff computes an overrides document such that
// Apply(base, FromDiff(base, target)) == target (spec §4.9, §8). It is a
// tooling convenience only, used to snapshot an edited plan as an
// overrides file; it refuses any delta it cannot express as an additive
// overlay: removed env keys, reordered or added/removed steps, removed
// configure flags/patches, reordered phases, a changed phase description,
// workspace or environment, or a changed step strategy, sources,
// extract_sources, packages or content.
func FromDiff(base, target *plan.Plan) (*Overrides, error) {
	if base.FormatVersion != target.FormatVersion {
		return nil, fmt.Errorf("overrides: from-diff: format_version mismatch (%d vs %d)", base.FormatVersion, target.FormatVersion)
	}
	if err := samePhaseSet(base, target); err != nil {
		return nil, err
	}

	out := New()
	for _, bph := range base.Phases {
		tph, _ := target.Phase(bph.Name)
		po, err := diffPhase(&bph, tph)
		if err != nil {
			return nil, fmt.Errorf("overrides: from-diff: phase %q: %w", bph.Name, err)
		}
		if po != nil {
			out.Phases[bph.Name] = po
		}
	}
	return out, nil
}

func samePhaseSet(base, target *plan.Plan) error {
	if len(base.Phases) != len(target.Phases) {
		return fmt.Errorf("overrides: from-diff: phase count differs (%d vs %d)", len(base.Phases), len(target.Phases))
	}
	for i, bph := range base.Phases {
		if target.PhaseIndex(bph.Name) != i {
			return fmt.Errorf("overrides: from-diff: phase %q missing from target or out of order", bph.Name)
		}
	}
	return nil
}

func diffPhase(base, target *plan.Phase) (*PhaseOverride, error) {
	po := &PhaseOverride{Steps: make(map[string]*StepOverride)}
	dirty := false

	if base.Description != target.Description || base.Workspace != target.Workspace || base.Environment != target.Environment {
		return nil, fmt.Errorf("description, workspace or environment differs; overrides cannot change them")
	}

	if base.InstallPrefix != target.InstallPrefix {
		v := target.InstallPrefix
		po.InstallPrefix = &v
		dirty = true
	}
	if base.DestDir != target.DestDir {
		v := target.DestDir
		po.DestDir = &v
		dirty = true
	}
	envOverlay, err := diffEnv(base.Env, target.Env)
	if err != nil {
		return nil, err
	}
	if len(envOverlay) > 0 {
		po.Env = envOverlay
		dirty = true
	}

	if len(base.Steps) != len(target.Steps) {
		return nil, fmt.Errorf("step count differs (%d vs %d); adding/removing steps cannot be expressed as overrides", len(base.Steps), len(target.Steps))
	}
	for i, bs := range base.Steps {
		ts := target.Steps[i]
		if bs.Name != ts.Name {
			return nil, fmt.Errorf("step order differs at position %d (%q vs %q); reordering cannot be expressed as overrides", i, bs.Name, ts.Name)
		}
		if bs.Strategy != ts.Strategy || !reflect.DeepEqual(
			[]interface{}{bs.Sources, bs.ExtractSources, bs.Packages, bs.Content},
			[]interface{}{ts.Sources, ts.ExtractSources, ts.Packages, ts.Content}) {
			return nil, fmt.Errorf("step %q: strategy, sources, extract_sources, packages or content differs; overrides cannot change them", bs.Name)
		}
		so, err := diffStep(&bs, &ts)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", bs.Name, err)
		}
		if so != nil {
			po.Steps[bs.Name] = so
			dirty = true
		}
	}
	if !dirty {
		return nil, nil
	}
	if len(po.Steps) == 0 {
		po.Steps = nil
	}
	return po, nil
}

func diffStep(base, target *plan.Step) (*StepOverride, error) {
	so := &StepOverride{}
	dirty := false

	if base.Workdir != target.Workdir {
		v := target.Workdir
		so.Workdir = &v
		dirty = true
	}
	if base.BuildDir != target.BuildDir {
		v := target.BuildDir
		so.BuildDir = &v
		dirty = true
	}
	if base.InstallPrefix != target.InstallPrefix {
		v := target.InstallPrefix
		so.InstallPrefix = &v
		dirty = true
	}
	if base.DestDir != target.DestDir {
		v := target.DestDir
		so.DestDir = &v
		dirty = true
	}
	if base.CleanBuild != target.CleanBuild {
		v := target.CleanBuild
		so.CleanBuild = &v
		dirty = true
	}

	envOverlay, err := diffEnv(base.Env, target.Env)
	if err != nil {
		return nil, err
	}
	if len(envOverlay) > 0 {
		so.Env = envOverlay
		dirty = true
	}

	addedFlags, err := diffAppendOnly(base.ConfigureFlags, target.ConfigureFlags, "configure flag")
	if err != nil {
		return nil, err
	}
	if len(addedFlags) > 0 {
		so.ConfigureFlagsAppend = addedFlags
		dirty = true
	}

	addedPatches, err := diffAppendOnly(base.Patches, target.Patches, "patch")
	if err != nil {
		return nil, err
	}
	if len(addedPatches) > 0 {
		so.PatchesAppend = addedPatches
		dirty = true
	}

	if !dirty {
		return nil, nil
	}
	return so, nil
}

// diffEnv returns the key/value pairs that are new or changed in target.
// An env key present in base but missing from target cannot be expressed
// as an additive overlay and is an error.
func diffEnv(base, target map[string]string) (map[string]string, error) {
	for k := range base {
		if _, ok := target[k]; !ok {
			return nil, fmt.Errorf("removes env key %q; overrides cannot remove env keys", k)
		}
	}
	overlay := make(map[string]string)
	for k, v := range target {
		if bv, ok := base[k]; !ok || bv != v {
			overlay[k] = v
		}
	}
	return overlay, nil
}

// diffAppendOnly requires target to equal base with zero or more elements
// appended, returning the appended tail.
func diffAppendOnly(base, target []string, what string) ([]string, error) {
	if len(target) < len(base) {
		return nil, fmt.Errorf("removes an existing %s; overrides can only append", what)
	}
	for i, v := range base {
		if target[i] != v {
			return nil, fmt.Errorf("removes an existing %s; overrides can only append", what)
		}
	}
	return target[len(base):], nil
}
