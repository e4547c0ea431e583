package executor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Dispatcher resolves a step's strategy tag and runs it. Generalized from
// orc's three-way phase-type switch in internal/runner into a registry
// lookup over the full strategy-tag set (spec §4.6).
type Dispatcher struct {
	registry map[string]Strategy
}

// NewDispatcher returns a Dispatcher backed by the package Registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{registry: Registry}
}

// Dispatch runs the strategy named by sc.Step.Strategy, or
// "autotools" if the step leaves Strategy empty (spec §4.6: "a step
// without an explicit strategy tag defaults to autotools").
func (d *Dispatcher) Dispatch(ctx context.Context, sc *StrategyContext) error {
	tag := sc.Step.Strategy
	if tag == "" {
		tag = "autotools"
	}
	strategy, ok := d.registry[tag]
	if !ok {
		return fmt.Errorf("executor: unknown strategy %q for step %q", tag, sc.Step.Name)
	}
	if sc.Log != nil {
		sc.Log.WithFields(logrus.Fields{
			"phase":    sc.Phase.Name,
			"step":     sc.Step.Name,
			"strategy": tag,
		}).Info("running step")
	}
	if err := ApplyPatches(ctx, sc.Runner, sc.Step.Workdir, sc.EnvList, sc.Step.Patches, sc.Log); err != nil {
		return err
	}
	return strategy(ctx, sc)
}
