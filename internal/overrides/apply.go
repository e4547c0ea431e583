package overrides

import (
	"fmt"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

// Apply returns a new plan with the overrides merged in. The input plan is
// not mutated. Fails if any referenced phase, allowlisted package, or
// overridden step does not exist in the source plan (spec §4.9).
func Apply(p *plan.Plan, ov *Overrides) (*plan.Plan, error) {
	out := deepCopy(p)
	if ov == nil {
		return out, nil
	}

	for phaseName, po := range ov.Phases {
		idx := out.PhaseIndex(phaseName)
		if idx < 0 {
			return nil, fmt.Errorf("overrides: unknown phase %q", phaseName)
		}
		ph := &out.Phases[idx]
		if err := applyPhase(ph, po); err != nil {
			return nil, fmt.Errorf("overrides: phase %q: %w", phaseName, err)
		}
	}
	return out, nil
}

func applyPhase(ph *plan.Phase, po *PhaseOverride) error {
	if po.InstallPrefix != nil {
		ph.InstallPrefix = *po.InstallPrefix
	}
	if po.DestDir != nil {
		ph.DestDir = *po.DestDir
	}
	if len(po.Env) > 0 {
		ph.Env = plan.MergeEnv(ph.Env, po.Env)
	}

	if len(po.Packages) > 0 {
		existing := make(map[string]plan.Step, len(ph.Steps))
		for _, s := range ph.Steps {
			existing[s.Name] = s
		}
		reordered := make([]plan.Step, 0, len(po.Packages))
		for _, name := range po.Packages {
			s, ok := existing[name]
			if !ok {
				return fmt.Errorf("unknown package %q", name)
			}
			reordered = append(reordered, s)
		}
		ph.Steps = reordered
	}

	for stepName, so := range po.Steps {
		idx := ph.StepIndex(stepName)
		if idx < 0 {
			return fmt.Errorf("unknown step %q", stepName)
		}
		if err := applyStep(&ph.Steps[idx], so); err != nil {
			return fmt.Errorf("step %q: %w", stepName, err)
		}
	}
	return nil
}

func applyStep(s *plan.Step, so *StepOverride) error {
	if so.Workdir != nil {
		s.Workdir = *so.Workdir
	}
	if so.BuildDir != nil {
		s.BuildDir = *so.BuildDir
	}
	if so.InstallPrefix != nil {
		s.InstallPrefix = *so.InstallPrefix
	}
	if so.DestDir != nil {
		s.DestDir = *so.DestDir
	}
	if len(so.Env) > 0 {
		s.Env = plan.MergeEnv(s.Env, so.Env)
	}
	if so.CleanBuild != nil {
		s.CleanBuild = *so.CleanBuild
	}
	if so.ConfigureFlags != nil {
		s.ConfigureFlags = append([]string(nil), so.ConfigureFlags...)
	}
	if so.Patches != nil {
		s.Patches = append([]string(nil), so.Patches...)
	}
	if len(so.ConfigureFlagsAppend) > 0 {
		s.ConfigureFlags = append(append([]string(nil), s.ConfigureFlags...), so.ConfigureFlagsAppend...)
	}
	if len(so.PatchesAppend) > 0 {
		s.Patches = append(append([]string(nil), s.Patches...), so.PatchesAppend...)
	}
	return nil
}

func deepCopy(p *plan.Plan) *plan.Plan {
	out := &plan.Plan{FormatVersion: p.FormatVersion}
	out.Phases = make([]plan.Phase, len(p.Phases))
	for i, ph := range p.Phases {
		nph := ph
		nph.Env = plan.MergeEnv(ph.Env, nil)
		nph.Steps = make([]plan.Step, len(ph.Steps))
		for j, s := range ph.Steps {
			ns := s
			ns.Env = plan.MergeEnv(s.Env, nil)
			ns.ConfigureFlags = append([]string(nil), s.ConfigureFlags...)
			ns.Patches = append([]string(nil), s.Patches...)
			nph.Steps[j] = ns
		}
		out.Phases[i] = nph
	}
	return out
}
