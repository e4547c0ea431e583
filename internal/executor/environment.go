// Package executor implements the plan executor of spec §4.7: phase/step
// selection, override application, per-strategy command synthesis, patch
// application, and failure-report writing.
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

// nativeOverlay is applied on top of phase∪step env when the rootfs marker
// is present (spec §4.7 "Environment inheritance").
var nativeOverlay = map[string]string{
	"CC":  "clang",
	"CXX": "clang++",
}

// EffectiveEnv computes phase.env ∪ step.env (step keys win), applies the
// "native" overlay when inRootfs is true (preferring /usr/bin in PATH and
// setting CC/CXX), and augments LD_LIBRARY_PATH with <prefix>/lib when
// PATH already contains the sysroot prefix.
func EffectiveEnv(ph *plan.Phase, s *plan.Step, inRootfs bool, sysrootPrefix string) map[string]string {
	env := plan.MergeEnv(ph.Env, s.Env)

	if inRootfs {
		path := env["PATH"]
		env = plan.MergeEnv(env, nativeOverlay)
		env["PATH"] = preferUsrBin(path)
	}

	if sysrootPrefix != "" && strings.Contains(env["PATH"], sysrootPrefix) {
		libDir := filepath.Join(sysrootPrefix, "lib")
		if !strings.Contains(env["LD_LIBRARY_PATH"], libDir) {
			if env["LD_LIBRARY_PATH"] == "" {
				env["LD_LIBRARY_PATH"] = libDir
			} else {
				env["LD_LIBRARY_PATH"] = libDir + ":" + env["LD_LIBRARY_PATH"]
			}
		}
	}
	return env
}

// preferUsrBin rewrites a PATH value so /usr/bin appears first, appending
// it if absent.
func preferUsrBin(path string) string {
	const usrBin = "/usr/bin"
	if path == "" {
		return usrBin
	}
	parts := strings.Split(path, ":")
	filtered := make([]string, 0, len(parts)+1)
	filtered = append(filtered, usrBin)
	for _, p := range parts {
		if p != usrBin && p != "" {
			filtered = append(filtered, p)
		}
	}
	return strings.Join(filtered, ":")
}

// BuildEnvList converts an effective-env map plus the host's base
// environment into the []string form os/exec wants, mirroring orc's
// dispatch.BuildEnv (CLAUDECODE-style filtering becomes BQ2_ filtering:
// any pre-existing BQ2_* var from the invoking shell is dropped so the
// executor's own values always win).
func BuildEnvList(env map[string]string) []string {
	base := make([]string, 0, len(os.Environ())+len(env))
	for _, e := range os.Environ() {
		key := strings.SplitN(e, "=", 2)[0]
		if strings.HasPrefix(key, "BQ2_") {
			continue
		}
		base = append(base, e)
	}
	for k, v := range env {
		base = append(base, fmt.Sprintf("%s=%s", k, v))
	}
	return base
}

// InstallPrefix resolves the effective install prefix for a step: the
// step's own value if set, else the phase default.
func InstallPrefix(ph *plan.Phase, s *plan.Step) string {
	if s.InstallPrefix != "" {
		return s.InstallPrefix
	}
	return ph.InstallPrefix
}

// DestDir resolves the effective DESTDIR for a step.
func DestDir(ph *plan.Phase, s *plan.Step) string {
	if s.DestDir != "" {
		return s.DestDir
	}
	return ph.DestDir
}

// DestPath joins an optional DESTDIR with an absolute install path, the
// way install commands understand "a DESTDIR is prepended only at install
// time" (spec §3 invariants).
func DestPath(destdir, installPath string) string {
	if destdir == "" {
		return installPath
	}
	return filepath.Join(destdir, installPath)
}
