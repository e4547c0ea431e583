package executor

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ApplyPatches applies each patch in order (spec §4.7 last paragraph).
// For each: a forward dry-run decides whether to apply; if the forward
// dry-run fails, a reverse dry-run distinguishes "already applied" (not a
// failure, logged and skipped) from a genuine conflict (raised as
// *CommandFailedError).
func ApplyPatches(ctx context.Context, runner CommandRunner, dir string, env []string, patches []string, log *logrus.Entry) error {
	for _, patch := range patches {
		if err := applyOne(ctx, runner, dir, env, patch, log); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, runner CommandRunner, dir string, env []string, patch string, log *logrus.Entry) error {
	dryRun := []string{"patch", "-p1", "--forward", "-N", "--dry-run", "-i", patch}
	_, dryErr := runner.Run(ctx, dir, env, dryRun)
	if dryErr == nil {
		apply := []string{"patch", "-p1", "--forward", "-N", "-i", patch}
		_, err := runner.Run(ctx, dir, env, apply)
		return err
	}

	reverseDryRun := []string{"patch", "-p1", "-R", "-N", "--dry-run", "-i", patch}
	if _, err := runner.Run(ctx, dir, env, reverseDryRun); err == nil {
		if log != nil {
			log.Infof("patch %s already applied", patch)
		}
		return nil
	}

	return dryErr
}
