package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// envOr returns the named environment variable, or def when unset/empty.
func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// envBool reports whether the named environment variable is set to a
// recognized truthy value (spec §6 "Environment variables").
func envBool(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes":
		return true
	default:
		return false
	}
}

// envInt parses the named environment variable as an int, returning nil
// when unset or unparsable.
func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// findRepoRoot walks up from start looking for a .bq2 directory, falling
// back to start itself when none is found (a fresh checkout has no .bq2
// until `sysroot-plan-write` creates one).
func findRepoRoot(start string) (string, error) {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".bq2")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start, nil
		}
		dir = parent
	}
}

// repoRoot resolves --repo-root, defaulting to an upward search from cwd.
func repoRoot(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findRepoRoot(cwd)
}

// bq2Dir returns <repoRoot>/.bq2, where the profile, authored overrides,
// and source cache live.
func bq2Dir(root string) string {
	return filepath.Join(root, ".bq2")
}

func defaultProfilePath(root string) string {
	return filepath.Join(bq2Dir(root), "profile.yaml")
}

func defaultOverridesPath(root string) string {
	return filepath.Join(bq2Dir(root), "overrides.yaml")
}

func defaultCacheDir(root string) string {
	return filepath.Join(bq2Dir(root), "cache")
}

// rootfsFromEnvOrFlag returns BQ2_ROOTFS whenever it is set, even over an
// explicit --rootfs, and the --rootfs value otherwise (spec §6:
// "BQ2_ROOTFS (forces the rootfs-marker flag)").
func rootfsFromEnvOrFlag(flagValue string) (string, error) {
	rootfs := envOr("BQ2_ROOTFS", flagValue)
	if rootfs == "" {
		return "", fmt.Errorf("--rootfs (or BQ2_ROOTFS) is required")
	}
	return rootfs, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
