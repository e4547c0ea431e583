package ux

import (
	"fmt"
	"os"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/resume"
)

// RenderStatus prints the full status display for a rootfs build: the
// rootfs id, current phase, completed/remaining step counts per phase,
// the last failure (if any), and the failure-report directory listing.
func RenderStatus(p *plan.Plan, st *resume.State, reportDir string) {
	fmt.Printf("%s  %s\n", bold.Sprint("Rootfs:"), st.RootfsID)
	if st.InvalidationReason != "" {
		fmt.Printf("%s  %s\n", bold.Sprint("Note:"), yellow.Sprint(st.InvalidationReason))
	}

	total, done := 0, 0
	for _, ph := range p.Phases {
		total += len(ph.Steps)
		for _, s := range ph.Steps {
			if st.Completed(ph.Name, s.Name) {
				done++
			}
		}
	}
	fmt.Printf("%s   %d/%d steps complete\n", bold.Sprint("State:"), done, total)

	fmt.Printf("\n%s\n", bold.Sprint("Phases:"))
	for i, ph := range p.Phases {
		phaseDone, phaseTotal := 0, len(ph.Steps)
		for _, s := range ph.Steps {
			if st.Completed(ph.Name, s.Name) {
				phaseDone++
			}
		}
		marker := "  "
		label := dim.Sprintf("%d/%d", phaseDone, phaseTotal)
		switch {
		case phaseTotal == 0:
			label = dim.Sprint("(no steps)")
		case phaseDone == phaseTotal:
			label = green.Sprint("done")
		case ph.Name == st.CurrentPhase:
			marker = yellow.Sprint("→ ")
		}
		fmt.Printf("  %s%-3d %-24s %s\n", marker, i+1, ph.Name, label)
	}

	if st.LastFailure != nil {
		fmt.Printf("\n%s\n", bold.Sprint("Last failure:"))
		fmt.Printf("  %s/%s: %s\n", st.LastFailure.Phase, st.LastFailure.Step, red.Sprint(st.LastFailure.Error))
		if st.LastFailure.ReportPath != "" {
			fmt.Printf("  report: %s\n", st.LastFailure.ReportPath)
		}
	}

	fmt.Printf("\n%s\n", bold.Sprint("Reports:"))
	entries, err := os.ReadDir(reportDir)
	if err != nil || len(entries) == 0 {
		fmt.Printf("  %s\n", dim.Sprint("(none)"))
		return
	}
	for _, e := range entries {
		fmt.Printf("  %s/%s\n", reportDir, e.Name())
	}
}
