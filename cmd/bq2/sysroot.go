package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"

	"github.com/embedconsult/bootstrap-qcow2/internal/catalog"
	"github.com/embedconsult/bootstrap-qcow2/internal/logging"
	"github.com/embedconsult/bootstrap-qcow2/internal/orchestrator"
	"github.com/embedconsult/bootstrap-qcow2/internal/overrides"
	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

// sysrootCmd drives the full stage machine of spec §4.10 (spec §6
// "sysroot"): prepare workspace, stage sources, write the plan, run the
// phases, copy the finished tarball into the source cache.
func sysrootCmd() *cli.Command {
	return &cli.Command{
		Name:  "sysroot",
		Usage: "Drive the full sysroot/rootfs build workflow",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "resume", Usage: "Resume from the last completed stage", Value: true},
			&cli.BoolFlag{Name: "no-resume", Usage: "Ignore saved progress and rebuild from the first stage"},
			&cli.StringFlag{Name: "arch", Usage: "Target architecture"},
			&cli.StringFlag{Name: "branch", Usage: "Source branch/tag selector"},
			&cli.StringFlag{Name: "base-version", Usage: "Base rootfs version tag"},
			&cli.StringFlag{Name: "base-rootfs", Usage: "Path to the seed rootfs archive extracted before sysroot-from-alpine"},
			&cli.StringFlag{Name: "repo-root", Usage: "Repository root (default: search upward from cwd for .bq2)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := repoRoot(cmd.String("repo-root"))
			if err != nil {
				return err
			}

			opts := orchestrator.Options{
				Rootfs:        envOr("BQ2_ROOTFS", filepath.Join(bq2Dir(root), "rootfs")),
				WorkspaceRoot: filepath.Join(bq2Dir(root), "workspace"),
				CacheDir:      defaultCacheDir(root),
				ProfilePath:   defaultProfilePath(root),
				Version:       envOr("BQ2_BASE_VERSION", cmd.String("base-version")),

				Arch:           envOr("BQ2_ARCH", cmd.String("arch")),
				Branch:         envOr("BQ2_BRANCH", cmd.String("branch")),
				BaseVersion:    envOr("BQ2_BASE_VERSION", cmd.String("base-version")),
				BaseRootfsPath: envOr("BQ2_BASE_ROOTFS_PATH", cmd.String("base-rootfs")),

				UseSystemTarSources: envBool("BQ2_USE_SYSTEM_TAR_SOURCES"),
				UseSystemTarRootfs:  envBool("BQ2_USE_SYSTEM_TAR_ROOTFS"),

				PreserveOwnership: envBool("BQ2_PRESERVE_OWNERSHIP"),
				OwnerUID:          envInt("BQ2_OWNER_UID"),
				OwnerGID:          envInt("BQ2_OWNER_GID"),
				SkipShardsInstall: envBool("BQ2_SKIP_SHARDS_INSTALL"),

				OverridesPath: existingOverridesPath(root),

				NoResume: cmd.Bool("no-resume") || !cmd.Bool("resume"),

				Log: logging.New(""),
			}

			orc, err := orchestrator.New(opts)
			if err != nil {
				return err
			}
			return orc.Run(ctx)
		},
	}
}

// existingOverridesPath returns the repo's authored overrides file only
// when it exists; a fresh checkout has none.
func existingOverridesPath(root string) string {
	path := defaultOverridesPath(root)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func defaultPlanPath(root string) string {
	return filepath.Join(bq2Dir(root), "profile-plan.json")
}

// sysrootPlanWriteCmd emits a fresh plan from the profile at
// .bq2/profile.yaml, or, with --override, an overrides diff between the
// plan already on disk and a freshly derived one (spec §6
// "sysroot-plan-write").
func sysrootPlanWriteCmd() *cli.Command {
	return &cli.Command{
		Name:  "sysroot-plan-write",
		Usage: "Derive a build plan (or overrides diff) from the profile",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Usage: "Output path (default: .bq2/profile-plan.json, or .bq2/overrides.yaml with --override)"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing output file"},
			&cli.BoolFlag{Name: "override", Usage: "Write an overrides diff against the plan on disk instead of a fresh plan"},
			&cli.StringFlag{Name: "workspace-root", Usage: "Repository root (default: search upward from cwd for .bq2)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := repoRoot(cmd.String("workspace-root"))
			if err != nil {
				return err
			}

			profile, err := catalog.LoadProfile(defaultProfilePath(root))
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			fresh, err := catalog.Build(catalog.Default, profile)
			if err != nil {
				return fmt.Errorf("building plan: %w", err)
			}

			if cmd.Bool("override") {
				output := cmd.String("output")
				if output == "" {
					output = defaultOverridesPath(root)
				}
				return writeOverridesDiff(defaultPlanPath(root), output, fresh, cmd.Bool("force"))
			}

			output := cmd.String("output")
			if output == "" {
				output = defaultPlanPath(root)
			}
			if !cmd.Bool("force") {
				if _, err := os.Stat(output); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", output)
				}
			}
			return plan.Write(output, fresh)
		},
	}
}

// writeOverridesDiff diffs the plan already on disk at planPath against
// fresh, writing the result as hand-authored-style YAML to output (spec
// §4.9 "derives overrides as a diff between two plans").
func writeOverridesDiff(planPath, output string, fresh *plan.Plan, force bool) error {
	base, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("loading base plan %s to diff against: %w", planPath, err)
	}
	diff, err := overrides.FromDiff(base, fresh)
	if err != nil {
		return fmt.Errorf("computing overrides diff: %w", err)
	}
	if !force {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", output)
		}
	}
	return overrides.WriteYAML(output, diff)
}
