package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/embedconsult/bootstrap-qcow2/internal/catalog"
)

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(t.TempDir(), "cache")
	}
	orc, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return orc
}

func TestNew_RequiresCacheDir(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected an error when CacheDir is empty")
	}
}

func TestNew_SkipShardsInstallSetsEnv(t *testing.T) {
	os.Unsetenv("BQ2_SKIP_SHARDS_INSTALL")
	newTestOrchestrator(t, Options{SkipShardsInstall: true})
	if os.Getenv("BQ2_SKIP_SHARDS_INSTALL") != "1" {
		t.Fatal("expected BQ2_SKIP_SHARDS_INSTALL=1 to be set in the process environment")
	}
	os.Unsetenv("BQ2_SKIP_SHARDS_INSTALL")
}

func TestPaths_DefaultsAndOverrides(t *testing.T) {
	rootfs := t.TempDir()
	orc := newTestOrchestrator(t, Options{Rootfs: rootfs})

	planPath, overridesPath, statePath, reportDir := orc.paths()
	if filepath.Dir(planPath) != filepath.Join(rootfs, "var", "lib") {
		t.Fatalf("planPath = %q", planPath)
	}
	if overridesPath == "" {
		t.Fatal("expected a default overrides path")
	}
	if statePath == "" || reportDir == "" {
		t.Fatal("expected default state/report paths")
	}
}

func TestPaths_NoOverridesClearsPath(t *testing.T) {
	orc := newTestOrchestrator(t, Options{Rootfs: t.TempDir(), NoOverrides: true})
	_, overridesPath, _, _ := orc.paths()
	if overridesPath != "" {
		t.Fatalf("overridesPath = %q, want empty with NoOverrides set", overridesPath)
	}
}

func TestPaths_CustomOverridesPathWins(t *testing.T) {
	orc := newTestOrchestrator(t, Options{Rootfs: t.TempDir(), OverridesPath: "/custom/overrides.yaml"})
	_, overridesPath, _, _ := orc.paths()
	if overridesPath != "/custom/overrides.yaml" {
		t.Fatalf("overridesPath = %q", overridesPath)
	}
}

func TestPaths_NoReportClearsReportDir(t *testing.T) {
	orc := newTestOrchestrator(t, Options{Rootfs: t.TempDir(), NoReport: true})
	_, _, _, reportDir := orc.paths()
	if reportDir != "" {
		t.Fatalf("reportDir = %q, want empty with NoReport set", reportDir)
	}
}

func TestTarballPath_NamesByVersion(t *testing.T) {
	orc := newTestOrchestrator(t, Options{Version: "1.2.3"})
	got := orc.tarballPath()
	if !strings.HasSuffix(got, "bq2-rootfs-1.2.3.tar.gz") {
		t.Fatalf("got %q", got)
	}
}

func TestExpectedArchivePaths_SkipsPackagesWithNoURL(t *testing.T) {
	orc := newTestOrchestrator(t, Options{})
	paths := orc.expectedArchivePaths()

	urlessCount := 0
	for _, pkg := range catalog.Default {
		if pkg.URL == "" {
			urlessCount++
		}
	}
	if len(paths) != len(catalog.Default)-urlessCount {
		t.Fatalf("got %d expected paths, want %d", len(paths), len(catalog.Default)-urlessCount)
	}
	for _, p := range paths {
		if p == "" {
			t.Fatal("got an empty expected archive path")
		}
	}
}

func TestRunPlanWrite_BuildsAndWritesPlan(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "profile.yaml")
	profileYAML := `
workspace-root: /work
phases:
  - name: sysroot-from-alpine
    workspace: /work/sysroot-from-alpine
    environment: alpine-seed
    install-prefix: /usr
`
	if err := os.WriteFile(profilePath, []byte(profileYAML), 0644); err != nil {
		t.Fatal(err)
	}

	orc := newTestOrchestrator(t, Options{ProfilePath: profilePath})
	planPath := filepath.Join(dir, "plan.json")
	if err := orc.runPlanWrite(planPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(planPath); err != nil {
		t.Fatal("expected a plan file to be written")
	}
}

func TestPopulateSeed_RequiresBaseRootfsPath(t *testing.T) {
	orc := newTestOrchestrator(t, Options{Rootfs: t.TempDir()})
	if err := orc.populateSeed(nil, "ALPINE_SEED"); err == nil { //nolint:staticcheck // ctx intentionally nil, never dereferenced on this path
		t.Fatal("expected an error when BaseRootfsPath is unset")
	}
}

func TestPreserveOwnership_PerPhaseTagOverridesFlatDefault(t *testing.T) {
	orc := newTestOrchestrator(t, Options{PreserveOwnership: false})

	os.Setenv("BQ2_PRESERVE_OWNERSHIP_ROOTFS_SYSTEM", "true")
	defer os.Unsetenv("BQ2_PRESERVE_OWNERSHIP_ROOTFS_SYSTEM")

	if !orc.preserveOwnership("ROOTFS_SYSTEM") {
		t.Fatal("expected the per-phase-tag variable to override the flat default")
	}
	if orc.preserveOwnership("ALPINE_SEED") {
		t.Fatal("expected an untagged environment to fall back to the flat default (false)")
	}
}
