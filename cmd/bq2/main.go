package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/embedconsult/bootstrap-qcow2/internal/docs"
	"github.com/embedconsult/bootstrap-qcow2/internal/ux"
)

func main() {
	app := &cli.Command{
		Name:        "bq2",
		Usage:       "Self-hosting sysroot and rootfs construction engine",
		Description: "Run 'bq2 docs' for documentation on the plan format, strategies, overrides, and resume.",
		Commands: []*cli.Command{
			sysrootCmd(),
			sysrootPlanWriteCmd(),
			sysrootRunnerCmd(),
			sysrootNamespaceCmd(),
			sysrootNamespaceCheckCmd(),
			sysrootStatusCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		ux.Error(err)
		os.Exit(1)
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Printf("  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Println("\nRun 'bq2 docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}
