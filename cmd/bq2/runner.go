package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v3"

	"github.com/embedconsult/bootstrap-qcow2/internal/logging"
	"github.com/embedconsult/bootstrap-qcow2/internal/metrics"
	"github.com/embedconsult/bootstrap-qcow2/internal/orchestrator"
)

// resolvePhaseAlias normalizes the historical CLI shapes `default`,
// `--all`, and `sysroot` to the canonical --phase values: "" (auto-select)
// and "all". Each alias use is explicitly logged since it is a deprecated,
// undocumented shim kept only for compatibility.
func resolvePhaseAlias(phase string, all bool, log *logrus.Entry) string {
	if all {
		log.Warn("--all is a deprecated alias for --phase all")
		return "all"
	}
	switch phase {
	case "default":
		log.Warn("--phase default is a deprecated alias for omitting --phase (auto-select)")
		return ""
	case "sysroot":
		log.Warn("--phase sysroot is a deprecated alias for --phase all")
		return "all"
	default:
		return phase
	}
}

// sysrootRunnerCmd executes the plan directly against a rootfs, entering
// its namespace when a rootfs-only phase demands it (spec §6
// "sysroot-runner"). It is also what the orchestrator re-execs into after
// namespace entry, with --allow-outside-rootfs set since the nested
// process is already pivoted.
func sysrootRunnerCmd() *cli.Command {
	return &cli.Command{
		Name:  "sysroot-runner",
		Usage: "Execute the build plan against a rootfs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rootfs", Usage: "Rootfs directory to build against (BQ2_ROOTFS, when set, takes precedence)"},
			&cli.StringFlag{Name: "phase", Usage: "Phase to run, or \"all\" (default: auto-select)"},
			&cli.BoolFlag{Name: "all", Usage: "Deprecated alias for --phase all"},
			&cli.StringFlag{Name: "packages", Usage: "Comma-separated package names to restrict the phase to"},
			&cli.StringFlag{Name: "overrides", Usage: "Overrides file path (default: .bq2/overrides.yaml if present)"},
			&cli.BoolFlag{Name: "no-overrides", Usage: "Ignore any overrides file"},
			&cli.StringFlag{Name: "report-dir", Usage: "Directory for failure reports (default: <rootfs>/var/lib/sysroot-build-reports)"},
			&cli.BoolFlag{Name: "no-report", Usage: "Disable failure-report writing"},
			&cli.BoolFlag{Name: "no-resume", Usage: "Ignore saved per-step progress"},
			&cli.BoolFlag{Name: "allow-outside-rootfs", Usage: "Run rootfs-only phases without entering a namespace"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print what would run without executing"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics at this address for the run's duration"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rootfs, err := rootfsFromEnvOrFlag(cmd.String("rootfs"))
			if err != nil {
				return err
			}

			if addr := cmd.String("metrics-addr"); addr != "" {
				srv := metrics.Serve(ctx, addr)
				defer srv.Close()
			}

			log := logging.New(cmd.String("report-dir"))
			phase := resolvePhaseAlias(cmd.String("phase"), cmd.Bool("all"), log)

			opts := orchestrator.Options{
				Rootfs:   rootfs,
				CacheDir: filepath.Join(rootfs, ".bq2-cache"),

				Phase:    phase,
				Packages: splitCSV(cmd.String("packages")),

				OverridesPath: cmd.String("overrides"),
				NoOverrides:   cmd.Bool("no-overrides"),

				ReportDir: cmd.String("report-dir"),
				NoReport:  cmd.Bool("no-report"),

				NoResume:           cmd.Bool("no-resume"),
				AllowOutsideRootfs: cmd.Bool("allow-outside-rootfs"),
				DryRun:             cmd.Bool("dry-run"),

				PreserveOwnership: envBool("BQ2_PRESERVE_OWNERSHIP"),
				OwnerUID:          envInt("BQ2_OWNER_UID"),
				OwnerGID:          envInt("BQ2_OWNER_GID"),
				SkipShardsInstall: envBool("BQ2_SKIP_SHARDS_INSTALL"),

				Log: log,
			}
			if opts.OverridesPath == "" && !opts.NoOverrides {
				if repo, err := findRepoRoot(rootfs); err == nil {
					opts.OverridesPath = existingOverridesPath(repo)
				}
			}

			orc, err := orchestrator.New(opts)
			if err != nil {
				return err
			}
			if err := orc.RunSysrootRunner(ctx); err != nil {
				return fmt.Errorf("sysroot-runner: %w", err)
			}
			return nil
		},
	}
}
