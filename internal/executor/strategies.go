package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/tarcodec"
	"github.com/sirupsen/logrus"
)

// StrategyContext bundles everything a strategy needs to synthesize and
// run its commands (spec §4.7 "Strategy synthesis").
type StrategyContext struct {
	Step    plan.Step
	Phase   plan.Phase
	EnvMap  map[string]string
	EnvList []string
	Runner  CommandRunner
	CPUs    int
	Log     *logrus.Entry

	// Callbacks back into the orchestrator for host-setup strategies that
	// have no subprocess shape of their own (spec §4.7: "Host-setup
	// strategies invoke orchestrator callbacks rather than spawning
	// subprocesses").
	Callbacks *Callbacks
}

// Callbacks are invoked by the download-sources/populate-seed/
// extract-sources strategies. PopulateSeed and ExtractSources receive the
// calling phase's environment tag (plan.EnvTag(sc.Phase.Environment)) so
// the orchestrator can resolve a per-phase BQ2_PRESERVE_OWNERSHIP_<tag>
// override.
type Callbacks struct {
	DownloadSources func(ctx context.Context) error
	PopulateSeed    func(ctx context.Context, envTag string) error
	ExtractSources  func(ctx context.Context, envTag string) error
}

// Strategy synthesizes and runs the commands for one build step.
type Strategy func(ctx context.Context, sc *StrategyContext) error

// Registry is the closed set of strategy tags the executor understands
// (spec §4.6 "Strategy tags recognized by the executor"). One function
// per variant, per Design Note 1 ("strategies as a closed set of variants
// ... adding a strategy is a compile-time extension").
var Registry = map[string]Strategy{
	"autotools":        autotoolsStrategy,
	"cmake":            cmakeStrategy,
	"cmake-project":    cmakeProjectStrategy,
	"busybox":          busyboxStrategy,
	"linux-headers":    linuxHeadersStrategy,
	"crystal-compiler": crystalCompilerStrategy,
	"crystal-build":    crystalBuildStrategy,
	"crystal":          crystalStrategy,
	"copy-tree":        copyTreeStrategy,
	"remove-tree":      removeTreeStrategy,
	"write-file":       writeFileStrategy,
	"prepare-rootfs":   prepareRootfsStrategy,
	"symlink":          symlinkStrategy,
	"tarball":          tarballStrategy,
	"download-sources": downloadSourcesStrategy,
	"populate-seed":    populateSeedStrategy,
	"extract-sources":  extractSourcesStrategy,
	"alpine-setup":     alpineSetupStrategy,
	"makefile-classic": makefileClassicStrategy,
}

func cpuJobs() string {
	return fmt.Sprintf("-j%d", runtime.NumCPU())
}

func run(ctx context.Context, sc *StrategyContext, argv ...string) error {
	_, err := sc.Runner.Run(ctx, sc.Step.Workdir, sc.EnvList, argv)
	return err
}

func runIn(ctx context.Context, sc *StrategyContext, dir string, argv ...string) error {
	_, err := sc.Runner.Run(ctx, dir, sc.EnvList, argv)
	return err
}

func installPrefix(sc *StrategyContext) string {
	return InstallPrefix(&sc.Phase, &sc.Step)
}

func destDir(sc *StrategyContext) string {
	return DestDir(&sc.Phase, &sc.Step)
}

func buildDir(sc *StrategyContext) string {
	if sc.Step.BuildDir != "" {
		return sc.Step.BuildDir
	}
	return sc.Step.Workdir
}

// autotoolsStrategy is the default strategy (spec §4.7).
func autotoolsStrategy(ctx context.Context, sc *StrategyContext) error {
	ip := installPrefix(sc)
	dd := destDir(sc)

	if fileExists(filepath.Join(sc.Step.Workdir, "configure.ac")) {
		normalizeAutoreconfTimestamps(sc.Step.Workdir)
	}

	if fileExists(filepath.Join(sc.Step.Workdir, "configure")) {
		args := append([]string{"./configure", "--prefix=" + ip}, sc.Step.ConfigureFlags...)
		if err := run(ctx, sc, args...); err != nil {
			return err
		}
	} else if fileExists(filepath.Join(sc.Step.Workdir, "CMakeLists.txt")) {
		args := append([]string{"cmake", "-S", ".", "-B", "build", "-DCMAKE_INSTALL_PREFIX=" + ip}, sc.Step.ConfigureFlags...)
		if err := run(ctx, sc, args...); err != nil {
			return err
		}
	}

	if err := run(ctx, sc, "make", cpuJobs()); err != nil {
		return err
	}

	installArgv := []string{"make"}
	if dd != "" {
		installArgv = append(installArgv, "DESTDIR="+dd)
	}
	installArgv = append(installArgv, "install")
	return run(ctx, sc, installArgv...)
}

// normalizeAutoreconfTimestamps makes configure/aclocal.m4/config.h.in/
// Makefile.in strictly newer than configure.ac, suppressing autoreconf
// regeneration (spec §4.7). Best-effort: missing files are skipped.
func normalizeAutoreconfTimestamps(workdir string) {
	acPath := filepath.Join(workdir, "configure.ac")
	info, err := os.Stat(acPath)
	if err != nil {
		return
	}
	newer := info.ModTime().Add(time.Second)

	candidates := []string{"configure", "aclocal.m4", "config.h.in"}
	matches, _ := filepath.Glob(filepath.Join(workdir, "**", "Makefile.in"))
	candidates = append(candidates, matches...)
	if fileExists(filepath.Join(workdir, "Makefile.in")) {
		candidates = append(candidates, "Makefile.in")
	}
	for _, name := range candidates {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(workdir, name)
		}
		if fileExists(p) {
			_ = os.Chtimes(p, newer, newer)
		}
	}
}

func cmakeStrategy(ctx context.Context, sc *StrategyContext) error {
	ip := installPrefix(sc)
	dd := destDir(sc)
	bd := buildDir(sc)
	if err := os.MkdirAll(bd, 0755); err != nil {
		return err
	}

	bootstrap := filepath.Join(sc.Step.Workdir, "bootstrap")
	args := []string{bootstrap, "--prefix=" + ip}
	if len(sc.Step.ConfigureFlags) > 0 {
		args = append(args, "--")
		args = append(args, sc.Step.ConfigureFlags...)
	}
	hadCache := fileExists(filepath.Join(bd, "CMakeCache.txt")) || fileExists(filepath.Join(bd, "Makefile"))
	if err := runIn(ctx, sc, bd, args...); err != nil {
		return err
	}

	if hadCache || sc.Step.CleanBuild {
		if err := runIn(ctx, sc, bd, "make", "clean"); err != nil {
			return err
		}
	}

	if err := runIn(ctx, sc, bd, "make", cpuJobs()); err != nil {
		return err
	}

	installArgv := []string{"make"}
	if dd != "" {
		installArgv = append(installArgv, "DESTDIR="+dd)
	}
	installArgv = append(installArgv, "install")
	return runIn(ctx, sc, bd, installArgv...)
}

func cmakeProjectStrategy(ctx context.Context, sc *StrategyContext) error {
	ip := installPrefix(sc)
	dd := destDir(sc)
	bd := buildDir(sc)

	args := append([]string{"cmake", "-S", ".", "-B", bd, "-DCMAKE_INSTALL_PREFIX=" + ip}, sc.Step.ConfigureFlags...)
	if err := run(ctx, sc, args...); err != nil {
		return err
	}
	if err := run(ctx, sc, "cmake", "--build", bd, cpuJobs()); err != nil {
		return err
	}

	env := sc.EnvList
	if dd != "" {
		env = append(append([]string(nil), env...), "DESTDIR="+dd)
	}
	_, err := sc.Runner.Run(ctx, sc.Step.Workdir, env, []string{"cmake", "--install", bd})
	return err
}

func busyboxStrategy(ctx context.Context, sc *StrategyContext) error {
	if err := run(ctx, sc, "make", "defconfig"); err != nil {
		return err
	}
	if err := run(ctx, sc, "make", cpuJobs()); err != nil {
		return err
	}
	target := destDir(sc)
	if target == "" {
		target = installPrefix(sc)
	}
	return run(ctx, sc, "make", "CONFIG_PREFIX="+target, "install")
}

func linuxHeadersStrategy(ctx context.Context, sc *StrategyContext) error {
	args := append(append([]string{"make"}, sc.Step.ConfigureFlags...), "headers")
	if err := run(ctx, sc, args...); err != nil {
		return err
	}
	dest := DestPath(destDir(sc), filepath.Join(installPrefix(sc), "include"))
	return copyTreeDir(filepath.Join(sc.Step.Workdir, "usr", "include"), dest)
}

func crystalCompilerStrategy(ctx context.Context, sc *StrategyContext) error {
	buildCache := filepath.Join(sc.Step.Workdir, ".build")
	if fileExists(buildCache) {
		if err := os.RemoveAll(buildCache); err != nil {
			return err
		}
	}
	if err := run(ctx, sc, "make", cpuJobs(), "crystal"); err != nil {
		return err
	}
	env := sc.EnvList
	if dd := destDir(sc); dd != "" {
		env = append(append([]string(nil), env...), "DESTDIR="+dd)
	}
	_, err := sc.Runner.Run(ctx, sc.Step.Workdir, env, []string{"make", "install", "PREFIX=" + installPrefix(sc)})
	return err
}

func crystalBuildStrategy(ctx context.Context, sc *StrategyContext) error {
	if fileExists(filepath.Join(sc.Step.Workdir, "shard.yml")) && sc.EnvMap["BQ2_SKIP_SHARDS_INSTALL"] != "1" && os.Getenv("BQ2_SKIP_SHARDS_INSTALL") != "1" {
		if err := run(ctx, sc, "shards", "install"); err != nil {
			return err
		}
	}
	args := append([]string{"crystal", "build"}, sc.Step.ConfigureFlags...)
	if err := run(ctx, sc, args...); err != nil {
		return err
	}
	return installBinDir(sc)
}

func crystalStrategy(ctx context.Context, sc *StrategyContext) error {
	if err := run(ctx, sc, "shards", "build"); err != nil {
		return err
	}
	return installBinDir(sc)
}

// installBinDir installs every file under bin/ to <dest>/<prefix>/bin/
// mode 0755 (spec §4.7 crystal-build/crystal).
func installBinDir(sc *StrategyContext) error {
	srcBin := filepath.Join(sc.Step.Workdir, "bin")
	entries, err := os.ReadDir(srcBin)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	destBin := DestPath(destDir(sc), filepath.Join(installPrefix(sc), "bin"))
	if err := os.MkdirAll(destBin, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFileMode(filepath.Join(srcBin, e.Name()), filepath.Join(destBin, e.Name()), 0755); err != nil {
			return err
		}
	}
	return nil
}

func copyTreeStrategy(ctx context.Context, sc *StrategyContext) error {
	target := DestPath(destDir(sc), installPrefix(sc))
	return copyTreeDir(sc.Step.Workdir, target)
}

func removeTreeStrategy(ctx context.Context, sc *StrategyContext) error {
	target := DestPath(destDir(sc), installPrefix(sc))
	clean := filepath.Clean(target)
	if clean == "/" || clean == "." || clean == "" {
		return fmt.Errorf("executor: remove-tree: refusing to remove %q", target)
	}
	return os.RemoveAll(target)
}

func writeFileStrategy(ctx context.Context, sc *StrategyContext) error {
	content := ""
	if sc.Step.Content != nil {
		content = *sc.Step.Content
	} else {
		content = sc.EnvMap["CONTENT"]
	}
	target := DestPath(destDir(sc), installPrefix(sc))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(content), 0644)
}

func prepareRootfsStrategy(ctx context.Context, sc *StrategyContext) error {
	for i := 1; ; i++ {
		pathKey := fmt.Sprintf("FILE_%d_PATH", i)
		contentKey := fmt.Sprintf("FILE_%d_CONTENT", i)
		path, ok := sc.EnvMap[pathKey]
		if !ok {
			break
		}
		content := sc.EnvMap[contentKey]
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

func symlinkStrategy(ctx context.Context, sc *StrategyContext) error {
	for i := 1; ; i++ {
		srcKey := fmt.Sprintf("LINK_%d_SRC", i)
		destKey := fmt.Sprintf("LINK_%d_DEST", i)
		src, ok := sc.EnvMap[srcKey]
		if !ok {
			break
		}
		dest := sc.EnvMap[destKey]
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		_ = os.Remove(dest)
		if err := os.Symlink(src, dest); err != nil {
			return err
		}
	}
	return nil
}

func tarballStrategy(ctx context.Context, sc *StrategyContext) error {
	root := DestPath(destDir(sc), sc.Step.Workdir)
	out := installPrefix(sc)
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	return tarcodec.WriteGzip(f, root)
}

func downloadSourcesStrategy(ctx context.Context, sc *StrategyContext) error {
	if sc.Callbacks == nil || sc.Callbacks.DownloadSources == nil {
		return fmt.Errorf("executor: download-sources: no callback registered")
	}
	return sc.Callbacks.DownloadSources(ctx)
}

func populateSeedStrategy(ctx context.Context, sc *StrategyContext) error {
	if sc.Callbacks == nil || sc.Callbacks.PopulateSeed == nil {
		return fmt.Errorf("executor: populate-seed: no callback registered")
	}
	return sc.Callbacks.PopulateSeed(ctx, plan.EnvTag(sc.Phase.Environment))
}

func extractSourcesStrategy(ctx context.Context, sc *StrategyContext) error {
	if sc.Callbacks == nil || sc.Callbacks.ExtractSources == nil {
		return fmt.Errorf("executor: extract-sources: no callback registered")
	}
	return sc.Callbacks.ExtractSources(ctx, plan.EnvTag(sc.Phase.Environment))
}

func alpineSetupStrategy(ctx context.Context, sc *StrategyContext) error {
	if len(sc.Step.Packages) == 0 {
		return nil
	}
	args := append([]string{"apk", "add", "--no-cache"}, sc.Step.Packages...)
	return run(ctx, sc, args...)
}

// makefileClassicStrategy handles bare-Makefile packages that need no
// configure step: make, then make [DESTDIR=] PREFIX=<ip> install. Not
// elaborated in spec §4.7's strategy list beyond being named in §4.6; this
// is the natural minimal flow analogous to the tail of autotoolsStrategy.
func makefileClassicStrategy(ctx context.Context, sc *StrategyContext) error {
	if err := run(ctx, sc, "make", cpuJobs()); err != nil {
		return err
	}
	installArgv := []string{"make"}
	if dd := destDir(sc); dd != "" {
		installArgv = append(installArgv, "DESTDIR="+dd)
	}
	installArgv = append(installArgv, "PREFIX="+installPrefix(sc), "install")
	return run(ctx, sc, installArgv...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyTreeDir(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		}
		return copyFileMode(p, target, info.Mode())
	})
}

func copyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
