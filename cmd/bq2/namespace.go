package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/embedconsult/bootstrap-qcow2/internal/nsentry"
)

// sysrootNamespaceCmd enters the rootfs namespace and execs the trailing
// command in place of itself (spec §6 "sysroot-namespace ... enter the
// rootfs and exec a command"). Using syscall.Exec rather than spawning a
// child matters here: Enter's unshare/pivot_root sequence only takes
// effect on the calling OS thread, and execve replaces the entire
// process image on that same thread without starting new ones, so the
// exec'd command inherits exactly the namespace state Enter just set up.
func sysrootNamespaceCmd() *cli.Command {
	return &cli.Command{
		Name:      "sysroot-namespace",
		Usage:     "Enter the rootfs namespace and exec a command",
		ArgsUsage: "[--rootfs PATH] [--bind SRC:DST]... -- cmd [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rootfs", Usage: "Rootfs directory to pivot into (BQ2_ROOTFS, when set, takes precedence)"},
			&cli.StringSliceFlag{Name: "bind", Usage: "Extra src:dst bind mounts, relative to the rootfs"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rootfs, err := rootfsFromEnvOrFlag(cmd.String("rootfs"))
			if err != nil {
				return err
			}

			args := cmd.Args().Slice()
			if len(args) == 0 {
				return fmt.Errorf("sysroot-namespace: no command given after --")
			}

			if err := nsentry.Enter(nsentry.Options{
				Rootfs:     rootfs,
				ExtraBinds: cmd.StringSlice("bind"),
			}); err != nil {
				return fmt.Errorf("namespace entry: %w", err)
			}

			exePath, err := exec.LookPath(args[0])
			if err != nil {
				return err
			}
			return syscall.Exec(exePath, args, os.Environ())
		},
	}
}

// sysrootNamespaceCheckCmd reports host preconditions for namespace entry
// without mutating anything (spec §6 "sysroot-namespace-check ... emit
// the restriction list").
func sysrootNamespaceCheckCmd() *cli.Command {
	return &cli.Command{
		Name:  "sysroot-namespace-check",
		Usage: "Report host restrictions on unprivileged namespace entry",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			restrictions := nsentry.Probe()
			if len(restrictions) == 0 {
				fmt.Println("no restrictions detected")
				return nil
			}
			for _, r := range restrictions {
				fmt.Printf("- %s\n", r)
			}
			return fmt.Errorf("%d restriction(s) detected", len(restrictions))
		},
	}
}
