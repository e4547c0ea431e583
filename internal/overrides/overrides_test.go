package overrides

import (
	"path/filepath"
	"testing"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

func basePlan() *plan.Plan {
	return &plan.Plan{
		FormatVersion: plan.FormatVersion,
		Phases: []plan.Phase{
			{
				Name:          "host-setup",
				InstallPrefix: "/usr",
				Env:           map[string]string{"CC": "gcc"},
				Steps: []plan.Step{
					{Name: "a", ConfigureFlags: []string{"--enable-a"}},
					{Name: "b"},
					{Name: "c"},
				},
			},
		},
	}
}

func TestApply_Unchanged(t *testing.T) {
	p := basePlan()
	out, err := Apply(p, New())
	if err != nil {
		t.Fatal(err)
	}
	if out.Phases[0].InstallPrefix != "/usr" {
		t.Fatalf("InstallPrefix = %q", out.Phases[0].InstallPrefix)
	}
	if &out.Phases[0] == &p.Phases[0] {
		t.Fatal("Apply should not alias the input plan's phases")
	}
}

func TestApply_UnknownPhase(t *testing.T) {
	ov := New()
	ov.Phases["does-not-exist"] = &PhaseOverride{}
	if _, err := Apply(basePlan(), ov); err == nil {
		t.Fatal("expected an error for an unknown phase")
	}
}

func TestApply_PackagesAllowlistRestrictsAndReorders(t *testing.T) {
	ov := New()
	ov.Phases["host-setup"] = &PhaseOverride{Packages: []string{"c", "a"}}

	out, err := Apply(basePlan(), ov)
	if err != nil {
		t.Fatal(err)
	}
	steps := out.Phases[0].Steps
	if len(steps) != 2 || steps[0].Name != "c" || steps[1].Name != "a" {
		t.Fatalf("got %+v", steps)
	}
}

func TestApply_PackagesAllowlistUnknownPackage(t *testing.T) {
	ov := New()
	ov.Phases["host-setup"] = &PhaseOverride{Packages: []string{"d"}}

	_, err := Apply(basePlan(), ov)
	if err == nil {
		t.Fatal("expected an error for an unknown package")
	}
}

func TestApply_StepEnvMergeAndFlagsAppend(t *testing.T) {
	ov := New()
	extra := "--enable-b"
	ov.Phases["host-setup"] = &PhaseOverride{
		Steps: map[string]*StepOverride{
			"a": {
				Env:                  map[string]string{"CFLAGS": "-O2"},
				ConfigureFlagsAppend: []string{extra},
			},
		},
	}

	out, err := Apply(basePlan(), ov)
	if err != nil {
		t.Fatal(err)
	}
	step := out.Phases[0].Steps[0]
	if step.Env["CFLAGS"] != "-O2" {
		t.Fatalf("Env = %+v", step.Env)
	}
	want := []string{"--enable-a", extra}
	if len(step.ConfigureFlags) != 2 || step.ConfigureFlags[0] != want[0] || step.ConfigureFlags[1] != want[1] {
		t.Fatalf("ConfigureFlags = %+v, want %+v", step.ConfigureFlags, want)
	}
}

func TestApply_UnknownStep(t *testing.T) {
	ov := New()
	ov.Phases["host-setup"] = &PhaseOverride{
		Steps: map[string]*StepOverride{"does-not-exist": {}},
	}
	if _, err := Apply(basePlan(), ov); err == nil {
		t.Fatal("expected an error for an unknown step")
	}
}

func TestFromDiff_ApplyRoundTrip(t *testing.T) {
	base := basePlan()
	target := basePlan()
	target.Phases[0].InstallPrefix = "/opt"
	target.Phases[0].Env["CC"] = "clang"
	target.Phases[0].Env["CXX"] = "clang++"
	target.Phases[0].Steps[0].ConfigureFlags = append(target.Phases[0].Steps[0].ConfigureFlags, "--enable-b")

	diff, err := FromDiff(base, target)
	if err != nil {
		t.Fatal(err)
	}

	applied, err := Apply(base, diff)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Phases[0].InstallPrefix != "/opt" {
		t.Fatalf("InstallPrefix = %q", applied.Phases[0].InstallPrefix)
	}
	if applied.Phases[0].Env["CC"] != "clang" || applied.Phases[0].Env["CXX"] != "clang++" {
		t.Fatalf("Env = %+v", applied.Phases[0].Env)
	}
	got := applied.Phases[0].Steps[0].ConfigureFlags
	if len(got) != 2 || got[1] != "--enable-b" {
		t.Fatalf("ConfigureFlags = %+v", got)
	}
}

func TestFromDiff_RejectsRemovedEnvKey(t *testing.T) {
	base := basePlan()
	target := basePlan()
	delete(target.Phases[0].Env, "CC")

	if _, err := FromDiff(base, target); err == nil {
		t.Fatal("expected an error: removing an env key cannot be expressed as an overlay")
	}
}

func TestFromDiff_RejectsRemovedConfigureFlag(t *testing.T) {
	base := basePlan()
	target := basePlan()
	target.Phases[0].Steps[0].ConfigureFlags = nil

	if _, err := FromDiff(base, target); err == nil {
		t.Fatal("expected an error: removing a configure flag cannot be expressed as an overlay")
	}
}

func TestFromDiff_RejectsStepCountMismatch(t *testing.T) {
	base := basePlan()
	target := basePlan()
	target.Phases[0].Steps = target.Phases[0].Steps[:2]

	if _, err := FromDiff(base, target); err == nil {
		t.Fatal("expected an error: added/removed steps cannot be expressed as an overlay")
	}
}

func TestFromDiff_RejectsStepReorder(t *testing.T) {
	base := basePlan()
	target := basePlan()
	target.Phases[0].Steps[0], target.Phases[0].Steps[1] = target.Phases[0].Steps[1], target.Phases[0].Steps[0]

	if _, err := FromDiff(base, target); err == nil {
		t.Fatal("expected an error: reordering steps cannot be expressed as an overlay")
	}
}

func TestFromDiff_NoChangesYieldsEmptyOverrides(t *testing.T) {
	base := basePlan()
	diff, err := FromDiff(base, basePlan())
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Phases) != 0 {
		t.Fatalf("got %d phase overrides, want 0", len(diff.Phases))
	}
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")

	ov := New()
	prefix := "/opt"
	ov.Phases["host-setup"] = &PhaseOverride{InstallPrefix: &prefix}

	if err := WriteJSON(path, ov); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if *loaded.Phases["host-setup"].InstallPrefix != "/opt" {
		t.Fatalf("got %+v", loaded.Phases["host-setup"])
	}
}

func TestYAMLCodec_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")

	ov := New()
	prefix := "/opt"
	ov.Phases["host-setup"] = &PhaseOverride{InstallPrefix: &prefix}

	if err := WriteYAML(path, ov); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadYAML(path)
	if err != nil {
		t.Fatal(err)
	}
	if *loaded.Phases["host-setup"].InstallPrefix != "/opt" {
		t.Fatalf("got %+v", loaded.Phases["host-setup"])
	}
}

func TestParseJSON_NilPhasesInitialized(t *testing.T) {
	ov, err := ParseJSON([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if ov.Phases == nil {
		t.Fatal("Phases should be initialized, not nil")
	}
}
