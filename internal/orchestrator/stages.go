package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/embedconsult/bootstrap-qcow2/internal/catalog"
	"github.com/embedconsult/bootstrap-qcow2/internal/executor"
	"github.com/embedconsult/bootstrap-qcow2/internal/overrides"
	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/sourcecache"
	"github.com/embedconsult/bootstrap-qcow2/internal/tarcodec"
)

// RunSysrootRunner drives exactly the sysroot-runner stage against the
// configured paths (spec §6 "sysroot-runner"), independent of the full
// stage machine. It backs both the standalone `sysroot-runner` CLI
// subcommand and the nested re-exec that follows namespace entry.
func (o *Orchestrator) RunSysrootRunner(ctx context.Context) error {
	planPath, overridesPath, statePath, reportDir := o.paths()
	return o.runSysrootRunner(ctx, planPath, overridesPath, statePath, reportDir, !o.opts.NoResume)
}

// runSysrootRunner wires catalog/plan/overrides/resume state into an
// executor.Executor and runs it, entering the rootfs namespace via a
// re-exec of the running binary whenever a rootfs-only phase demands it
// (spec §4.7 "Rootfs-only phases", §4.10).
func (o *Orchestrator) runSysrootRunner(ctx context.Context, planPath, overridesPath, statePath, reportDir string, resume bool) error {
	p, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}
	planBytes, err := os.ReadFile(planPath)
	if err != nil {
		return err
	}
	planDigest := plan.Digest(planBytes)

	var ov *overrides.Overrides
	var overridesDigest string
	if overridesPath != "" {
		data, err := os.ReadFile(overridesPath)
		if err != nil {
			return fmt.Errorf("reading overrides: %w", err)
		}
		overridesDigest = plan.Digest(data)

		switch filepath.Ext(overridesPath) {
		case ".yaml", ".yml":
			ov, err = overrides.LoadYAML(overridesPath)
		default:
			ov, err = overrides.LoadJSON(overridesPath)
		}
		if err != nil {
			return fmt.Errorf("loading overrides: %w", err)
		}
	}

	exe, err := executor.New(executor.Options{
		Plan:               p,
		Rootfs:             o.opts.Rootfs,
		Phase:              o.opts.Phase,
		Packages:           o.opts.Packages,
		Overrides:          ov,
		OverridesDigest:    overridesDigest,
		PlanDigest:         planDigest,
		ReportDir:          reportDir,
		DryRun:             o.opts.DryRun,
		StatePath:          statePath,
		Resume:             resume,
		AllowOutsideRootfs: o.opts.AllowOutsideRootfs,
		ExtraBinds:         o.opts.ExtraBinds,
		Namespace:          o.reexecNamespace(planPath, overridesPath, statePath, reportDir, resume),
		Callbacks:          o.callbacks(),
		Log:                o.opts.Log,
	})
	if err != nil {
		return err
	}
	return exe.Run(ctx)
}

// reexecNamespace returns an executor.NamespaceEntry that re-execs the
// running binary as `sysroot-namespace --rootfs ... --bind ... -- <self>
// sysroot-runner ...`, so the nested process pivots into a clean,
// single-threaded image before continuing the same phase (spec §4.10:
// "locating the tool's own executable ... to re-exec inside the
// namespace"; spec §6: "sysroot-namespace ... enter the rootfs and exec a
// command").
func (o *Orchestrator) reexecNamespace(planPath, overridesPath, statePath, reportDir string, resume bool) executor.NamespaceEntry {
	return func(ctx context.Context, rootfs string, extraBinds []string) error {
		args := []string{"sysroot-namespace", "--rootfs", rootfs}
		for _, b := range extraBinds {
			args = append(args, "--bind", b)
		}
		args = append(args, "--")
		args = append(args, o.selfExe, "sysroot-runner",
			"--phase", o.opts.Phase,
			"--allow-outside-rootfs",
		)
		if overridesPath != "" {
			args = append(args, "--overrides", overridesPath)
		} else {
			args = append(args, "--no-overrides")
		}
		if reportDir != "" {
			args = append(args, "--report-dir", reportDir)
		} else {
			args = append(args, "--no-report")
		}
		if !resume {
			args = append(args, "--no-resume")
		}

		cmd := exec.CommandContext(ctx, o.selfExe, args...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("nsentry: re-exec %s: %w", o.selfExe, err)
		}
		return nil
	}
}

// callbacks wires the download-sources/populate-seed/extract-sources
// strategies back to the orchestrator (spec §4.7, §4.10).
func (o *Orchestrator) callbacks() *executor.Callbacks {
	return &executor.Callbacks{
		DownloadSources: o.runDownloadSources,
		PopulateSeed:    o.populateSeed,
		ExtractSources:  o.extractSources,
	}
}

// preserveOwnership resolves the effective preserve-ownership flag for a
// phase's environment tag: BQ2_PRESERVE_OWNERSHIP_<tag> (e.g.
// BQ2_PRESERVE_OWNERSHIP_ROOTFS_SYSTEM) wins when set, falling back to the
// flat BQ2_PRESERVE_OWNERSHIP-derived opts.PreserveOwnership otherwise.
func (o *Orchestrator) preserveOwnership(envTag string) bool {
	switch os.Getenv("BQ2_PRESERVE_OWNERSHIP_" + envTag) {
	case "1", "true", "TRUE", "yes":
		return true
	case "0", "false", "FALSE", "no":
		return false
	default:
		return o.opts.PreserveOwnership
	}
}

// populateSeed extracts the configured base rootfs archive (BQ2_BASE_ROOTFS_PATH)
// into the seed workspace before the sysroot-from-alpine phase builds
// against it (spec §4.6 "alpine-seed").
func (o *Orchestrator) populateSeed(ctx context.Context, envTag string) error {
	if o.opts.BaseRootfsPath == "" {
		return fmt.Errorf("orchestrator: populate-seed: no base rootfs path configured (BQ2_BASE_ROOTFS_PATH)")
	}
	return tarcodec.ExtractArchive(o.opts.BaseRootfsPath, o.opts.Rootfs, tarcodec.Options{
		PreserveOwnership: o.preserveOwnership(envTag),
		UID:               o.opts.OwnerUID,
		GID:               o.opts.OwnerGID,
		Log:               o.opts.Log,
		ForceSystemTar:    o.opts.UseSystemTarRootfs,
	})
}

// extractSources extracts every fetched source archive into
// <WorkspaceRoot>/<package name>, skipping archives not yet in the cache
// (spec §4.6 "extract-sources"). The target directory is not taken from
// the plan's step workdirs.
func (o *Orchestrator) extractSources(ctx context.Context, envTag string) error {
	for _, pkg := range catalog.Default {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pkg.URL == "" {
			continue
		}
		archivePath := o.cache.Path(sourcecache.Request{Name: pkg.Name, URL: pkg.URL})
		if _, err := os.Stat(archivePath); err != nil {
			continue
		}
		dest := filepath.Join(o.opts.WorkspaceRoot, pkg.Name)
		opts := tarcodec.Options{
			PreserveOwnership: o.preserveOwnership(envTag),
			UID:               o.opts.OwnerUID,
			GID:               o.opts.OwnerGID,
			Log:               o.opts.Log,
			ForceSystemTar:    o.opts.UseSystemTarSources,
		}
		if err := tarcodec.ExtractArchive(archivePath, dest, opts); err != nil {
			return fmt.Errorf("extracting %s: %w", pkg.Name, err)
		}
	}
	return nil
}
