package catalog

import (
	"fmt"
	"path"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

var archiveSuffixes = []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tgz", ".tbz2", ".zip", ".tar"}

// deriveBuildDir strips a known archive suffix and an optional trailing
// ".src" from the URL's basename (spec §4.6).
func deriveBuildDir(url string) string {
	base := path.Base(url)
	for _, suf := range archiveSuffixes {
		if strings.HasSuffix(base, suf) {
			base = strings.TrimSuffix(base, suf)
			break
		}
	}
	base = strings.TrimSuffix(base, ".src")
	return base
}

// expandTemplate substitutes %{phase} and %{name} in an out-of-tree build
// directory template.
func expandTemplate(tmpl, phaseName, pkgName string) string {
	r := strings.NewReplacer("%{phase}", phaseName, "%{name}", pkgName)
	return r.Replace(tmpl)
}

// Build derives a concrete plan.Plan from the catalog and profile
// (spec §4.6). Phase ordering follows plan.PhaseOrder; any profile phase
// not named in that list is appended afterward in profile order.
func Build(cat []Package, profile *Profile) (*plan.Plan, error) {
	specByName := make(map[string]*PhaseSpec, len(profile.Phases))
	for i := range profile.Phases {
		specByName[profile.Phases[i].Name] = &profile.Phases[i]
	}

	ordered := make([]string, 0, len(profile.Phases))
	seen := make(map[string]bool, len(profile.Phases))
	for _, name := range plan.PhaseOrder {
		if _, ok := specByName[name]; ok {
			ordered = append(ordered, name)
			seen[name] = true
		}
	}
	for _, ps := range profile.Phases {
		if !seen[ps.Name] {
			ordered = append(ordered, ps.Name)
		}
	}

	out := &plan.Plan{FormatVersion: plan.FormatVersion}
	for _, name := range ordered {
		spec := specByName[name]
		ph, err := buildPhase(cat, spec)
		if err != nil {
			return nil, fmt.Errorf("catalog: phase %q: %w", name, err)
		}
		out.Phases = append(out.Phases, *ph)
	}
	return out, nil
}

func buildPhase(cat []Package, spec *PhaseSpec) (*plan.Phase, error) {
	ph := &plan.Phase{
		Name:          spec.Name,
		Description:   spec.Description,
		Workspace:     spec.Workspace,
		Environment:   spec.Environment,
		InstallPrefix: spec.InstallPrefix,
		DestDir:       spec.DestDir,
		Env:           spec.Env.Map(),
	}

	for _, es := range spec.PreSteps {
		ph.Steps = append(ph.Steps, extraStepToStep(es))
	}

	pkgs, err := selectPackages(cat, spec)
	if err != nil {
		return nil, err
	}
	for _, pkg := range pkgs {
		steps, err := buildStepsFor(pkg, spec)
		if err != nil {
			return nil, fmt.Errorf("package %q: %w", pkg.Name, err)
		}
		ph.Steps = append(ph.Steps, steps...)
	}

	for _, es := range spec.PostSteps {
		ph.Steps = append(ph.Steps, extraStepToStep(es))
	}

	return ph, nil
}

func extraStepToStep(es ExtraStep) plan.Step {
	s := plan.Step{
		Name:           es.Name,
		Strategy:       es.Strategy,
		Workdir:        es.Workdir,
		ConfigureFlags: es.ConfigureFlags,
		Patches:        es.Patches,
		Env:            es.Env.Map(),
	}
	if es.Content != "" {
		c := es.Content
		s.Content = &c
	}
	if len(es.FileEnv) > 0 {
		if s.Env == nil {
			s.Env = make(map[string]string, len(es.FileEnv))
		}
		for k, v := range es.FileEnv {
			s.Env[k] = v
		}
	}
	return s
}

// selectPackages resolves a phase's allowlist (strict) or, absent one,
// every catalog package whose Phases list names this phase (an empty
// Phases list means "sysroot-from-alpine only", per spec §4.6).
func selectPackages(cat []Package, spec *PhaseSpec) ([]Package, error) {
	byName := make(map[string]Package, len(cat))
	for _, p := range cat {
		byName[p.Name] = p
	}

	if len(spec.Allowlist) > 0 {
		out := make([]Package, 0, len(spec.Allowlist))
		for _, name := range spec.Allowlist {
			p, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("allowlist: unknown package %q", name)
			}
			out = append(out, p)
		}
		return out, nil
	}

	var out []Package
	for _, p := range cat {
		if packageParticipates(p, spec.Name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func packageParticipates(p Package, phaseName string) bool {
	if len(p.Phases) == 0 {
		return phaseName == "sysroot-from-alpine"
	}
	for _, ph := range p.Phases {
		if ph == phaseName {
			return true
		}
	}
	return false
}

// buildStepsFor maps one package to its build step(s). llvm-project
// expands into a stage1/stage2 pair (spec §4.6); every other package maps
// to exactly one step.
func buildStepsFor(pkg Package, spec *PhaseSpec) ([]plan.Step, error) {
	if pkg.Name == "llvm-project" {
		return llvmStages(pkg, spec)
	}

	buildDir := pkg.BuildDirectory
	if buildDir == "" {
		buildDir = deriveBuildDir(pkg.URL)
	}

	configureFlags := append(append([]string(nil), pkg.ConfigureFlags...), spec.ConfigureOverrides[pkg.Name]...)
	patches := append(append([]string(nil), pkg.Patches...), spec.PatchOverrides[pkg.Name]...)

	var buildDirTemplate string
	if pkg.OutOfTreeBuildDir != "" {
		buildDirTemplate = expandTemplate(pkg.OutOfTreeBuildDir, spec.Name, pkg.Name)
	}

	s := plan.Step{
		Name:           pkg.Name,
		Strategy:       pkg.Strategy,
		Workdir:        path.Join(spec.Workspace, buildDir),
		ConfigureFlags: configureFlags,
		Patches:        patches,
		BuildDir:       buildDirTemplate,
		Env:            spec.EnvOverrides[pkg.Name].Map(),
		CleanBuild:     cleanBuildRule(pkg.Name, spec.Name),
	}
	return []plan.Step{s}, nil
}

// cleanBuildRule implements the small clean-build rule of spec §4.6:
// bdwgc runs with clean_build=true in sysroot-from-alpine and
// system-from-sysroot.
func cleanBuildRule(pkgName, phaseName string) bool {
	if pkgName != "bdwgc" {
		return false
	}
	return phaseName == "sysroot-from-alpine" || phaseName == "system-from-sysroot"
}

func llvmStages(pkg Package, spec *PhaseSpec) ([]plan.Step, error) {
	buildDir := pkg.BuildDirectory
	if buildDir == "" {
		buildDir = deriveBuildDir(pkg.URL)
	}
	workdir := path.Join(spec.Workspace, buildDir)
	patches := append(append([]string(nil), pkg.Patches...), spec.PatchOverrides[pkg.Name]...)
	baseFlags := append([]string(nil), pkg.ConfigureFlags...)
	baseFlags = append(baseFlags, spec.ConfigureOverrides[pkg.Name]...)

	stagePrefix := spec.InstallPrefix

	stage1Flags := append(append([]string(nil), baseFlags...),
		"-DLLVM_ENABLE_PROJECTS=clang;lld",
		"-DLLVM_BUILD_LLVM_DYLIB=OFF",
		"-DLLVM_LINK_LLVM_DYLIB=OFF",
		"-DLLVM_TARGETS_TO_BUILD=X86",
	)
	stage1Prefix := path.Join(stagePrefix, pkg.Name+"-stage1")
	stage1 := plan.Step{
		Name:           pkg.Name + "-stage1",
		Strategy:       "cmake-project",
		Workdir:        workdir,
		ConfigureFlags: stage1Flags,
		Patches:        patches,
		BuildDir:       expandTemplate("%{name}-stage1-build", spec.Name, pkg.Name),
		Env:            spec.EnvOverrides[pkg.Name].Map(),
		InstallPrefix:  stage1Prefix,
	}

	stage2Flags := append(append([]string(nil), baseFlags...),
		"-DLLVM_ENABLE_PROJECTS=clang;lld;libcxx;libcxxabi;libunwind",
		fmt.Sprintf("-DCMAKE_C_COMPILER=%s/bin/clang", stage1Prefix),
		fmt.Sprintf("-DCMAKE_CXX_COMPILER=%s/bin/clang++", stage1Prefix),
		fmt.Sprintf("-DCMAKE_CXX_FLAGS=-I%s/include/c++/v1", stage1Prefix),
		fmt.Sprintf("-DCMAKE_EXE_LINKER_FLAGS=-L%s/lib -lc++ -lc++abi -lunwind", stage1Prefix),
	)
	stage2 := plan.Step{
		Name:           pkg.Name + "-stage2",
		Strategy:       "cmake-project",
		Workdir:        workdir,
		ConfigureFlags: stage2Flags,
		Patches:        patches,
		BuildDir:       expandTemplate("%{name}-stage2-build", spec.Name, pkg.Name),
		Env:            spec.EnvOverrides[pkg.Name].Map(),
	}

	return []plan.Step{stage1, stage2}, nil
}
