package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/resume"
	"github.com/embedconsult/bootstrap-qcow2/internal/ux"
)

// sysrootStatusCmd renders the current rootfs build's phase/step progress,
// last failure, and failure-report listing (spec §6 "sysroot-status").
func sysrootStatusCmd() *cli.Command {
	return &cli.Command{
		Name:  "sysroot-status",
		Usage: "Show build progress for a rootfs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rootfs", Usage: "Rootfs directory to report on (BQ2_ROOTFS, when set, takes precedence)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rootfs, err := rootfsFromEnvOrFlag(cmd.String("rootfs"))
			if err != nil {
				return err
			}

			planPath, _, statePath, reportDir := resume.DefaultPaths(rootfs)

			p, err := plan.Load(planPath)
			if err != nil {
				return fmt.Errorf("loading plan: %w", err)
			}

			st, err := resume.Load(statePath)
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			if st == nil {
				return fmt.Errorf("no build state recorded yet for %s", rootfs)
			}

			ux.RenderStatus(p, st, reportDir)
			return nil
		},
	}
}
