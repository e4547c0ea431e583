// Package orchestrator drives the multi-stage sysroot/rootfs build
// workflow of spec §4.10: prepare workspace, stage sources, write the
// plan, execute phases (entering the rootfs namespace as needed), and
// copy the finished rootfs tarball into the source cache.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/embedconsult/bootstrap-qcow2/internal/catalog"
	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
	"github.com/embedconsult/bootstrap-qcow2/internal/plan"
	"github.com/embedconsult/bootstrap-qcow2/internal/resume"
	"github.com/embedconsult/bootstrap-qcow2/internal/sourcecache"
)

// stageOrder is the fixed stage list of spec §4.10.
var stageOrder = []string{
	resume.StageDownloadSources,
	resume.StagePlanWrite,
	resume.StageSysrootRunner,
	resume.StageRootfsTarball,
	resume.StageComplete,
}

// Options configures one orchestrator run. Most fields mirror the CLI
// surface and environment variables of spec §6.
type Options struct {
	Rootfs        string
	WorkspaceRoot string
	CacheDir      string
	ProfilePath   string
	Version       string // rootfs version, used to name bq2-rootfs-<version>.tar.gz

	Arch            string
	Branch          string
	BaseVersion     string
	BaseRootfsPath  string

	UseSystemTarSources bool
	UseSystemTarRootfs  bool

	PreserveOwnership bool
	OwnerUID          *int
	OwnerGID          *int
	SkipShardsInstall bool

	Phase      string
	Packages   []string

	OverridesPath string
	NoOverrides   bool

	ReportDir string
	NoReport  bool

	NoResume           bool
	AllowOutsideRootfs bool
	DryRun             bool
	ExtraBinds         []string

	Client *fetcher.Client
	Log    *logrus.Entry
}

// Orchestrator drives the stage state machine described above.
type Orchestrator struct {
	opts    Options
	cache   *sourcecache.Cache
	selfExe string
}

// New constructs an Orchestrator, locating the running executable so
// later stages can re-exec it inside the entered namespace (spec §4.10:
// "responsible for locating the tool's own executable").
func New(opts Options) (*Orchestrator, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Client == nil {
		opts.Client = fetcher.New()
		opts.Client.Progress = fetcher.DefaultProgress{}
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("orchestrator: CacheDir is required")
	}
	if opts.SkipShardsInstall {
		// crystal-build's shard.yml check (spec §4.6) reads this straight
		// out of the step's inherited environment, so set it once here
		// rather than threading it through EffectiveEnv.
		if err := os.Setenv("BQ2_SKIP_SHARDS_INSTALL", "1"); err != nil {
			return nil, fmt.Errorf("orchestrator: setting BQ2_SKIP_SHARDS_INSTALL: %w", err)
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: locating own executable: %w", err)
	}
	return &Orchestrator{
		opts:    opts,
		cache:   sourcecache.New(opts.CacheDir, opts.Client),
		selfExe: exe,
	}, nil
}

func (o *Orchestrator) paths() (planPath, overridesPath, statePath, reportDir string) {
	planPath, overridesPath, statePath, reportDir = resume.DefaultPaths(o.opts.Rootfs)
	if o.opts.OverridesPath != "" {
		overridesPath = o.opts.OverridesPath
	}
	if o.opts.NoOverrides {
		overridesPath = ""
	}
	if o.opts.ReportDir != "" {
		reportDir = o.opts.ReportDir
	}
	if o.opts.NoReport {
		reportDir = ""
	}
	return
}

// tarballPath is the source-cache destination for the finished rootfs
// tarball (spec §4.10: "copying the produced rootfs tarball into the
// source cache as bq2-rootfs-<version>.tar.gz").
func (o *Orchestrator) tarballPath() string {
	return filepath.Join(o.cache.Dir, "sources", "bq2-rootfs-"+o.opts.Version+".tar.gz")
}

// expectedArchivePaths lists the cache path every fetchable catalog
// package's archive is expected to occupy (packages with no URL, like
// bq2-build-tools, are produced in-tree and have nothing to download).
func (o *Orchestrator) expectedArchivePaths() []string {
	var out []string
	for _, pkg := range catalog.Default {
		if pkg.URL == "" {
			continue
		}
		out = append(out, o.cache.Path(sourcecache.Request{Name: pkg.Name, URL: pkg.URL}))
	}
	return out
}

// Run drives the stage state machine of spec §4.10 to completion,
// starting at whatever stage resume.Decide selects.
func (o *Orchestrator) Run(ctx context.Context) error {
	planPath, overridesPath, statePath, reportDir := o.paths()

	decision, err := resume.Decide(resume.DecideInput{
		ExpectedArchivePaths: o.expectedArchivePaths(),
		PlanPath:             planPath,
		OverridesPath:        overridesPath,
		StatePath:            statePath,
		OutputTarballPath:    o.tarballPath(),
	})
	if err != nil {
		return fmt.Errorf("orchestrator: deciding resume stage: %w", err)
	}
	o.opts.Log.WithFields(logrus.Fields{
		"stage":  decision.Stage,
		"reason": decision.Reason,
	}).Info("resume decision")

	startIdx := -1
	for i, s := range stageOrder {
		if s == decision.Stage {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return fmt.Errorf("orchestrator: unrecognized stage %q", decision.Stage)
	}

	for i := startIdx; i < len(stageOrder); i++ {
		stage := stageOrder[i]
		if stage == resume.StageComplete {
			o.opts.Log.Info("build already complete")
			return nil
		}

		start := time.Now()
		var stageErr error
		switch stage {
		case resume.StageDownloadSources:
			stageErr = o.runDownloadSources(ctx)
		case resume.StagePlanWrite:
			stageErr = o.runPlanWrite(planPath)
		case resume.StageSysrootRunner:
			stageErr = o.runSysrootRunner(ctx, planPath, overridesPath, statePath, reportDir, !o.opts.NoResume)
		case resume.StageRootfsTarball:
			stageErr = o.runRootfsTarball(planPath)
		}

		elapsed := time.Since(start)
		if stageErr != nil {
			o.opts.Log.WithFields(logrus.Fields{
				"stage":    stage,
				"duration": elapsed,
			}).WithError(stageErr).Error("stage failed")
			return fmt.Errorf("orchestrator: stage %q: %w", stage, stageErr)
		}
		o.opts.Log.WithFields(logrus.Fields{
			"stage":    stage,
			"duration": elapsed,
		}).Info("stage complete")
	}
	return nil
}

func (o *Orchestrator) runDownloadSources(ctx context.Context) error {
	for _, pkg := range catalog.Default {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pkg.URL == "" {
			continue
		}
		req := sourcecache.Request{
			Name:        pkg.Name,
			URL:         pkg.URL,
			SHA256:      pkg.SHA256,
			ChecksumURL: pkg.ChecksumURL,
		}
		if _, err := o.cache.Fetch(req); err != nil {
			return fmt.Errorf("fetching %s: %w", pkg.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) runPlanWrite(planPath string) error {
	profile, err := catalog.LoadProfile(o.opts.ProfilePath)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	built, err := catalog.Build(catalog.Default, profile)
	if err != nil {
		return fmt.Errorf("building plan: %w", err)
	}
	return plan.Write(planPath, built)
}

func (o *Orchestrator) runRootfsTarball(planPath string) error {
	p, err := plan.Load(planPath)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}
	ph, err := p.Phase("finalize-rootfs")
	if err != nil {
		return fmt.Errorf("locating finalize-rootfs phase: %w", err)
	}

	var src string
	for _, s := range ph.Steps {
		if s.Strategy == "tarball" {
			src = ph.InstallPrefix
			break
		}
	}
	if src == "" {
		return fmt.Errorf("finalize-rootfs phase has no tarball step")
	}

	dst := o.tarballPath()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
