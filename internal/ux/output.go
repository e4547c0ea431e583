// Package ux renders the executor's progress to the terminal: phase and
// step headers, completion/failure lines, and resume hints.
package ux

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
)

var (
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

func stamp() string {
	return dim.Sprintf("[%s]", timestamp())
}

// PhaseHeader prints a timestamped phase banner.
func PhaseHeader(index, total int, ph plan.Phase) {
	fmt.Printf("\n%s %s\n", stamp(), cyan.Sprint("══════════════════════════════════════"))
	desc := ""
	if ph.Description != "" {
		desc = fmt.Sprintf(" — %s", ph.Description)
	}
	fmt.Printf("%s  %s%s\n", stamp(), bold.Sprintf("Phase %d/%d: %s (%s)", index+1, total, ph.Name, ph.Environment), desc)
	fmt.Printf("%s %s\n", stamp(), cyan.Sprint("══════════════════════════════════════"))
}

// StepHeader prints a one-line step banner naming the strategy the
// dispatcher is about to run (spec §4.7 "Building <step> in <workdir>").
func StepHeader(ph plan.Phase, s plan.Step, rootfsKind string) {
	strategy := s.Strategy
	if strategy == "" {
		strategy = "autotools"
	}
	fmt.Printf("%s  %s %s%s\n", stamp(), yellow.Sprint("▸"),
		bold.Sprint(s.Name),
		dim.Sprintf(" (%s, phase=%s, rootfs=%s)", strategy, ph.Name, rootfsKind))
}

// StepComplete prints a step completion line.
func StepComplete(name string, duration time.Duration) {
	fmt.Printf("%s  %s %s\n", stamp(), green.Sprint("✓"), fmt.Sprintf("%s (%s)", name, duration.Round(time.Millisecond)))
}

// StepFail prints a step failure line, including the failure report path
// when one was written.
func StepFail(phaseName, stepName, errMsg, reportPath string) {
	msg := fmt.Sprintf("%s/%s failed: %s", phaseName, stepName, errMsg)
	if reportPath != "" {
		msg += fmt.Sprintf(" (see %s)", reportPath)
	}
	fmt.Printf("%s  %s %s\n", stamp(), red.Sprint("✗"), msg)
}

// PhaseComplete prints a phase completion message.
func PhaseComplete(index int, duration time.Duration) {
	m := int(duration.Minutes())
	s := int(duration.Seconds()) % 60
	fmt.Printf("%s  %s\n", stamp(), green.Sprintf("✓ Phase %d complete (%dm %02ds)", index+1, m, s))
}

// PhaseSkip prints a phase-skip message (no unresumed steps remain).
func PhaseSkip(index int, phaseName string) {
	fmt.Printf("%s  %s\n", stamp(), dim.Sprintf("– Phase %d (%s) skipped (nothing to resume)", index+1, phaseName))
}

// ResumeHint prints the command to re-invoke to continue a failed build.
func ResumeHint(rootfs string) {
	fmt.Printf("\n%s sysroot-runner --rootfs %s\n", yellow.Sprint("Resume:"), rootfs)
}

// Success prints a final success message.
func Success(total int) {
	fmt.Printf("\n%s  %s\n\n", stamp(), bold.Sprint(green.Sprintf("══ All %d phases complete ══", total)))
}

// Error prints a top-level CLI error line to stderr.
func Error(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", red.Sprint("error:"), err)
}
