package catalog

import (
	"testing"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

func testCatalog() []Package {
	return []Package{
		{Name: "m4", Strategy: "autotools", URL: "https://example.test/m4-1.0.tar.gz", Phases: []string{"host-setup"}},
		{Name: "bash", Strategy: "autotools", URL: "https://example.test/bash-2.0.tar.gz", Phases: []string{"host-setup"}},
		{Name: "linux", Strategy: "linux-headers", URL: "https://example.test/linux-1.0.tar.xz"},
	}
}

func testProfile() *Profile {
	return &Profile{
		WorkspaceRoot: "/work",
		Phases: []PhaseSpec{
			{
				Name:          "host-setup",
				Workspace:     "/work/host-setup",
				Environment:   plan.EnvHostSetup,
				InstallPrefix: "/usr",
			},
		},
	}
}

func TestValidateProfile_Valid(t *testing.T) {
	if err := ValidateProfile(testProfile()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateProfile_MissingWorkspaceRoot(t *testing.T) {
	p := testProfile()
	p.WorkspaceRoot = ""
	if err := ValidateProfile(p); err == nil {
		t.Fatal("expected an error for a missing workspace-root")
	}
}

func TestValidateProfile_NoPhases(t *testing.T) {
	p := &Profile{WorkspaceRoot: "/work"}
	if err := ValidateProfile(p); err == nil {
		t.Fatal("expected an error for zero phases")
	}
}

func TestValidateProfile_DuplicatePhaseName(t *testing.T) {
	p := testProfile()
	p.Phases = append(p.Phases, p.Phases[0])
	if err := ValidateProfile(p); err == nil {
		t.Fatal("expected an error for a duplicate phase name")
	}
}

func TestValidateProfile_UnknownEnvironment(t *testing.T) {
	p := testProfile()
	p.Phases[0].Environment = "not-a-real-environment"
	if err := ValidateProfile(p); err == nil {
		t.Fatal("expected an error for an unknown environment tag")
	}
}

func TestBuild_SelectsPackagesByPhaseMembership(t *testing.T) {
	p, err := Build(testCatalog(), testProfile())
	if err != nil {
		t.Fatal(err)
	}
	ph, err := p.Phase("host-setup")
	if err != nil {
		t.Fatal(err)
	}
	if len(ph.Steps) != 2 {
		t.Fatalf("got %d steps, want 2 (m4, bash)", len(ph.Steps))
	}
	if ph.Steps[0].Name != "m4" || ph.Steps[1].Name != "bash" {
		t.Fatalf("got %+v", ph.Steps)
	}
}

func TestBuild_AllowlistRestrictsAndReorders(t *testing.T) {
	profile := testProfile()
	profile.Phases[0].Allowlist = []string{"bash", "m4"}

	p, err := Build(testCatalog(), profile)
	if err != nil {
		t.Fatal(err)
	}
	ph, err := p.Phase("host-setup")
	if err != nil {
		t.Fatal(err)
	}
	if len(ph.Steps) != 2 || ph.Steps[0].Name != "bash" || ph.Steps[1].Name != "m4" {
		t.Fatalf("got %+v", ph.Steps)
	}
}

func TestBuild_AllowlistUnknownPackage(t *testing.T) {
	profile := testProfile()
	profile.Phases[0].Allowlist = []string{"does-not-exist"}

	if _, err := Build(testCatalog(), profile); err == nil {
		t.Fatal("expected an error for an unknown allowlisted package")
	}
}

func TestBuild_ConfigureAndPatchOverridesApply(t *testing.T) {
	profile := testProfile()
	profile.Phases[0].ConfigureOverrides = map[string][]string{"m4": {"--disable-nls"}}
	profile.Phases[0].PatchOverrides = map[string][]string{"m4": {"001-fix.patch"}}

	p, err := Build(testCatalog(), profile)
	if err != nil {
		t.Fatal(err)
	}
	ph, _ := p.Phase("host-setup")
	m4 := ph.Steps[ph.StepIndex("m4")]
	if len(m4.ConfigureFlags) != 1 || m4.ConfigureFlags[0] != "--disable-nls" {
		t.Fatalf("ConfigureFlags = %+v", m4.ConfigureFlags)
	}
	if len(m4.Patches) != 1 || m4.Patches[0] != "001-fix.patch" {
		t.Fatalf("Patches = %+v", m4.Patches)
	}
}

func TestBuild_PreAndPostStepsSplice(t *testing.T) {
	profile := testProfile()
	profile.Phases[0].PreSteps = []ExtraStep{{Name: "prepare", Strategy: "shell"}}
	profile.Phases[0].PostSteps = []ExtraStep{{Name: "finalize", Strategy: "shell"}}

	p, err := Build(testCatalog(), profile)
	if err != nil {
		t.Fatal(err)
	}
	ph, _ := p.Phase("host-setup")
	if ph.Steps[0].Name != "prepare" {
		t.Fatalf("first step = %q, want prepare", ph.Steps[0].Name)
	}
	if ph.Steps[len(ph.Steps)-1].Name != "finalize" {
		t.Fatalf("last step = %q, want finalize", ph.Steps[len(ph.Steps)-1].Name)
	}
}

func TestBuild_EmptyPhasesMeansSysrootFromAlpineOnly(t *testing.T) {
	profile := &Profile{
		WorkspaceRoot: "/work",
		Phases: []PhaseSpec{
			{Name: "sysroot-from-alpine", Workspace: "/work/s", Environment: plan.EnvAlpineSeed},
		},
	}
	p, err := Build(testCatalog(), profile)
	if err != nil {
		t.Fatal(err)
	}
	ph, _ := p.Phase("sysroot-from-alpine")
	if ph.StepIndex("linux") < 0 {
		t.Fatalf("expected linux (empty Phases) to participate in sysroot-from-alpine, got %+v", ph.Steps)
	}
}

func TestBuild_PhaseOrderFollowsPlanPhaseOrder(t *testing.T) {
	profile := &Profile{
		WorkspaceRoot: "/work",
		Phases: []PhaseSpec{
			{Name: "finalize-rootfs", Workspace: "/work/f", Environment: plan.EnvRootfsFinalize},
			{Name: "host-setup", Workspace: "/work/h", Environment: plan.EnvHostSetup},
		},
	}
	p, err := Build(testCatalog(), profile)
	if err != nil {
		t.Fatal(err)
	}
	if p.Phases[0].Name != "host-setup" || p.Phases[1].Name != "finalize-rootfs" {
		t.Fatalf("got phase order %v, want [host-setup finalize-rootfs] (plan.PhaseOrder precedence)", []string{p.Phases[0].Name, p.Phases[1].Name})
	}
}

func TestBuild_LLVMExpandsIntoTwoStages(t *testing.T) {
	cat := []Package{
		{Name: "llvm-project", Strategy: "", URL: "https://example.test/llvm-1.0.src.tar.xz", Phases: []string{"host-setup"}},
	}
	p, err := Build(cat, testProfile())
	if err != nil {
		t.Fatal(err)
	}
	ph, _ := p.Phase("host-setup")
	if len(ph.Steps) != 2 {
		t.Fatalf("got %d steps, want 2 (stage1+stage2)", len(ph.Steps))
	}
	if ph.Steps[0].Name != "llvm-project-stage1" || ph.Steps[1].Name != "llvm-project-stage2" {
		t.Fatalf("got %+v", ph.Steps)
	}
	if ph.Steps[0].Strategy != "cmake-project" || ph.Steps[1].Strategy != "cmake-project" {
		t.Fatalf("expected both stages to use cmake-project, got %+v", ph.Steps)
	}
	if want := "/usr/llvm-project-stage1"; ph.Steps[0].InstallPrefix != want {
		t.Fatalf("stage1 InstallPrefix = %q, want %q (stage2 flags reference it as the stage1 compiler location)", ph.Steps[0].InstallPrefix, want)
	}
}

func TestBuild_CleanBuildRuleAppliesToBdwgc(t *testing.T) {
	cat := []Package{
		{Name: "bdwgc", Strategy: "cmake", URL: "https://example.test/gc-1.0.tar.gz", Phases: []string{"sysroot-from-alpine", "tools-from-system"}},
	}
	profile := &Profile{
		WorkspaceRoot: "/work",
		Phases: []PhaseSpec{
			{Name: "sysroot-from-alpine", Workspace: "/work/s", Environment: plan.EnvAlpineSeed},
			{Name: "tools-from-system", Workspace: "/work/t", Environment: plan.EnvRootfsSystem},
		},
	}
	p, err := Build(cat, profile)
	if err != nil {
		t.Fatal(err)
	}
	sysroot, _ := p.Phase("sysroot-from-alpine")
	if !sysroot.Steps[0].CleanBuild {
		t.Fatal("expected bdwgc to clean-build in sysroot-from-alpine")
	}
	tools, _ := p.Phase("tools-from-system")
	if tools.Steps[0].CleanBuild {
		t.Fatal("expected bdwgc not to clean-build in tools-from-system")
	}
}

func TestDeriveBuildDir(t *testing.T) {
	cases := map[string]string{
		"https://x/m4-1.4.19.tar.gz":                  "m4-1.4.19",
		"https://x/busybox-1.36.1.tar.bz2":            "busybox-1.36.1",
		"https://x/llvm-project-18.1.8.src.tar.xz":    "llvm-project-18.1.8",
		"https://x/linux-6.6.21.tar.xz":               "linux-6.6.21",
	}
	for url, want := range cases {
		if got := deriveBuildDir(url); got != want {
			t.Errorf("deriveBuildDir(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestDefaultCatalog_Validates(t *testing.T) {
	names := make(map[string]bool, len(Default))
	for _, p := range Default {
		if p.Name == "" {
			t.Fatal("default catalog has a package with an empty name")
		}
		if names[p.Name] {
			t.Fatalf("duplicate package name %q in default catalog", p.Name)
		}
		names[p.Name] = true
	}
}
