package plan

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func samplePlan() *Plan {
	return &Plan{
		FormatVersion: FormatVersion,
		Phases: []Phase{
			{
				Name:        "host-setup",
				Environment: EnvHostSetup,
				Steps: []Step{
					{Name: "install-deps", Strategy: "shell"},
				},
			},
		},
	}
}

func TestParse_RoundTrip(t *testing.T) {
	original := samplePlan()
	data, err := Serialize(original)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatal("Serialize should end with a trailing newline")
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.PhaseIndex("host-setup") != 0 {
		t.Fatalf("PhaseIndex(host-setup) = %d, want 0", got.PhaseIndex("host-setup"))
	}
	ph, err := got.Phase("host-setup")
	if err != nil {
		t.Fatal(err)
	}
	if ph.StepIndex("install-deps") != 0 {
		t.Fatalf("StepIndex(install-deps) = %d, want 0", ph.StepIndex("install-deps"))
	}
}

func TestParse_RejectsOldFormatVersion(t *testing.T) {
	_, err := Parse([]byte(`{"format_version": 1, "phases": []}`))
	if err == nil {
		t.Fatal("expected a migration error for format_version 1")
	}
	var migErr *MigrationError
	if !strings.Contains(err.Error(), "format_version 1") {
		t.Fatalf("error %q does not mention the found version", err.Error())
	}
	if me, ok := err.(*MigrationError); ok {
		migErr = me
	} else {
		t.Fatalf("error is %T, want *MigrationError", err)
	}
	if migErr.Found != 1 {
		t.Fatalf("Found = %d, want 1", migErr.Found)
	}
}

func TestValidate_DuplicatePhaseName(t *testing.T) {
	p := &Plan{
		FormatVersion: FormatVersion,
		Phases: []Phase{
			{Name: "host-setup"},
			{Name: "host-setup"},
		},
	}
	if err := p.Validate(); err == nil {
		t.Fatal("expected a duplicate phase name error")
	}
}

func TestValidate_DuplicateStepName(t *testing.T) {
	p := &Plan{
		FormatVersion: FormatVersion,
		Phases: []Phase{
			{
				Name: "host-setup",
				Steps: []Step{
					{Name: "a"},
					{Name: "a"},
				},
			},
		},
	}
	if err := p.Validate(); err == nil {
		t.Fatal("expected a duplicate step name error")
	}
}

func TestValidate_EmptyNames(t *testing.T) {
	p := &Plan{FormatVersion: FormatVersion, Phases: []Phase{{Name: ""}}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an empty phase name error")
	}

	p = &Plan{FormatVersion: FormatVersion, Phases: []Phase{{Name: "p", Steps: []Step{{Name: ""}}}}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an empty step name error")
	}
}

func TestPhase_UnknownNameErrors(t *testing.T) {
	p := samplePlan()
	if _, err := p.Phase("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown phase")
	}
	if p.PhaseIndex("does-not-exist") != -1 {
		t.Fatal("PhaseIndex should be -1 for an unknown phase")
	}
}

func TestLoadWrite_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/plan.json"

	original := samplePlan()
	if err := Write(path, original); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Phases) != len(original.Phases) {
		t.Fatalf("got %d phases, want %d", len(loaded.Phases), len(original.Phases))
	}
}

func TestDigest_StableAndSensitive(t *testing.T) {
	a := Digest([]byte("hello"))
	b := Digest([]byte("hello"))
	c := Digest([]byte("hello!"))

	if a != b {
		t.Fatal("Digest should be deterministic for identical input")
	}
	if a == c {
		t.Fatal("Digest should differ for different input")
	}
	if len(a) != 64 {
		t.Fatalf("Digest length = %d, want 64 (hex sha256)", len(a))
	}
}

func TestMergeEnv_OverlayWins(t *testing.T) {
	base := map[string]string{"A": "1", "B": "2"}
	overlay := map[string]string{"B": "3", "C": "4"}

	merged := MergeEnv(base, overlay)
	if merged["A"] != "1" || merged["B"] != "3" || merged["C"] != "4" {
		t.Fatalf("got %+v", merged)
	}
	if base["B"] != "2" {
		t.Fatal("MergeEnv should not mutate base")
	}
}

func TestOrderedEnv_UnmarshalPreservesOrderAndMaps(t *testing.T) {
	var doc struct {
		Env OrderedEnv `yaml:"env"`
	}
	src := "env:\n  Z: 1\n  A: 2\n"
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Env) != 2 || doc.Env[0].Key != "Z" || doc.Env[1].Key != "A" {
		t.Fatalf("got %+v, want declaration order preserved", doc.Env)
	}
	m := doc.Env.Map()
	if m["Z"] != "1" || m["A"] != "2" {
		t.Fatalf("Map() = %+v", m)
	}
}
