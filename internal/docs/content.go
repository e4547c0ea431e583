package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Building a sysroot and rootfs from scratch",
		Content: topicQuickstart,
	},
	{
		Name:    "plan",
		Title:   "Build Plan Format",
		Summary: "Phases, steps, and the on-disk plan JSON shape",
		Content: topicPlan,
	},
	{
		Name:    "strategies",
		Title:   "Step Strategies",
		Summary: "Every strategy tag the executor understands",
		Content: topicStrategies,
	},
	{
		Name:    "overrides",
		Title:   "Overrides",
		Summary: "Restricting, reordering, and patching a plan without editing it",
		Content: topicOverrides,
	},
	{
		Name:    "resume",
		Title:   "Resume and State",
		Summary: "How a failed or interrupted build picks back up",
		Content: topicResume,
	},
	{
		Name:    "namespace",
		Title:   "Rootfs Namespace Entry",
		Summary: "Unprivileged unshare/pivot_root and what sysroot-namespace does",
		Content: topicNamespace,
	},
	{
		Name:    "reports",
		Title:   "Failure Reports",
		Summary: "What gets written when a step fails, and where",
		Content: topicReports,
	},
}

const topicQuickstart = `Quick Start
===========

1. Write or accept the default package catalog and a profile
   (.bq2/profile.yaml) describing each phase's workspace, install
   prefix, and package allowlist.

2. Emit a plan:

    bq2 sysroot-plan-write --output plan.json

3. Run it:

    bq2 sysroot

   This downloads and verifies every source archive, writes the
   plan if it is missing, executes phases in the fixed order
   (host-setup, sysroot-from-alpine, rootfs-from-sysroot,
   system-from-sysroot, tools-from-system, finalize-rootfs), entering
   a fresh mount/user namespace whenever a rootfs-only phase needs one,
   and finally copies the produced rootfs tarball into the source
   cache as bq2-rootfs-<version>.tar.gz.

4. If a step fails, fix the cause and re-run the same command. The
   executor resumes from the first incomplete step; it does not
   replay work already recorded in the state file.

5. Check progress at any time:

    bq2 sysroot-status --rootfs PATH

   prints the rootfs id, per-phase step counts, the last failure, and
   the failure reports written so far.
`

const topicPlan = `Build Plan Format
=================

A plan is a JSON document with two top-level fields:

    {
      "format_version": 2,
      "phases": [ ... ]
    }

format_version 1 documents are rejected outright — they are not
auto-migrated, because the step shape changed incompatibly (workdir
derivation, destdir handling). Regenerate with sysroot-plan-write.

Each phase carries a name, description, workspace path, environment
tag (host-setup, alpine-seed, sysroot-toolchain, rootfs-system, or
rootfs-finalize), a default install prefix and optional DESTDIR, a
default env map, and an ordered list of steps.

Each step carries a name, a strategy tag, a workdir, configure flags,
patches, optional build_dir/install_prefix/destdir overrides, an env
map, and a clean_build flag. Names are unique within a phase; phase
names are unique within a plan. Phase order is fixed: host-setup,
sysroot-from-alpine, rootfs-from-sysroot, system-from-sysroot,
tools-from-system, finalize-rootfs — the executor always replays
phases in this order regardless of how they appear in the profile that
produced the plan.
`

const topicStrategies = `Step Strategies
===============

autotools (default)    ./configure (falls back to a bundled
                        CMakeLists.txt if no configure script is
                        present) && make -jN && make install
cmake                  a project-local bootstrap script, then the
                        same make/install tail
cmake-project           out-of-tree cmake -S/-B, then build/install
busybox                 make defconfig && make -jN, then make install
                        with CONFIG_PREFIX set to DESTDIR (the install
                        prefix when no DESTDIR is set)
linux-headers           make <flags> headers, then copy usr/include to
                        <DESTDIR>/<install prefix>/include
crystal-compiler        bootstrap the crystal toolchain from source
crystal-build           shards install (unless BQ2_SKIP_SHARDS_INSTALL
                        is set) then crystal build, installing every
                        bin/ file
crystal                 shards build, then install every bin/ file
copy-tree / remove-tree recursive tree copy/removal (remove-tree
                        refuses to operate on "/")
write-file              write the step's content (or the CONTENT env
                        var) to the single file <DESTDIR>/<install prefix>
prepare-rootfs          write each FILE_n_PATH with FILE_n_CONTENT,
                        for n = 1, 2, ... until FILE_n_PATH is unset
symlink                 create each LINK_n_DEST pointing at LINK_n_SRC,
                        for n = 1, 2, ... until LINK_n_SRC is unset
tarball                 gzip the step's workdir (optionally
                        DESTDIR-prefixed) to the phase's install prefix
download-sources, populate-seed, extract-sources
                        delegate to orchestrator-supplied callbacks —
                        there is no in-process implementation, these
                        exist purely as plan-visible markers for the
                        host-setup phase
alpine-setup            apk add --no-cache <packages>
makefile-classic        bare make && make [DESTDIR=] PREFIX=<ip>
                        install, for packages with no configure script
`

const topicOverrides = `Overrides
=========

An overrides document lets you reshape a plan without hand-editing the
generated JSON. It can, per phase: set install_prefix/destdir, merge
additional env vars, reorder or restrict the package list (every name
must already exist — unknown names are a hard error), and per step:
replace configure flags, append patches, merge env, or flip
clean_build.

Overrides only ever restrict, reorder, or additively extend an
existing plan; they cannot introduce a phase, step, or package that
was not already there. FromDiff generates an overrides document from
two plans built against the same catalog, and Apply(base,
FromDiff(base, target)) reproduces target exactly — this is the
property the override engine is tested against.

Load an overrides file at runtime with sysroot-runner --overrides
PATH, or suppress the default one with --no-overrides.
`

const topicResume = `Resume and State
================

Every sysroot-runner invocation writes a state file alongside the
plan, keyed by the SHA-256 digest of the plan bytes (and, if present,
the overrides bytes). If either digest changes between runs, the
recorded progress is invalidated and the build restarts from the
beginning of sysroot-runner — it does not silently replay stale step
completions against a plan that no longer matches them.

The orchestrator's resume decision, in order: if any catalog source
archive is missing from the cache, resume at download-sources. Else if
no plan file exists, resume at plan-write. Else load the plan and
state; if state is missing or invalidated, resume at sysroot-runner
with no bookmark. Otherwise walk the plan in order and resume at the
first step not recorded as complete. If every step is complete but the
output rootfs tarball is missing, resume at rootfs-tarball. Otherwise
the build is complete.

A retried step that previously failed has its clean_build flag
suppressed for that one retry, so a partially-populated build
directory from the failed attempt is reused rather than wiped.
`

const topicNamespace = `Rootfs Namespace Entry
======================

Phases tagged with a rootfs-* environment run inside a private
mount/user namespace pivoted into the rootfs being built, so that
absolute paths baked into configure scripts and install steps resolve
against the target root instead of the host's.

Entry: if the calling process already holds CAP_SYS_ADMIN, user
namespace creation is skipped (we're already privileged enough); otherwise it
unshares a user namespace, writes deny to /proc/self/setgroups
(tolerating a permission error for uid 0), and maps the calling
uid/gid to 0 inside the new namespace. It then unshares the mount
namespace, makes the whole mount tree private and recursive, bind
mounts the rootfs onto itself, applies any extra binds, mounts
/proc, /sys, /dev (host-bind or a curated tmpfs with just
null/zero/random/urandom/tty), /tmp, and pivots into the rootfs.

Because namespace changes only apply to the unsharing thread, the
orchestrator re-execs the running binary as:

    sysroot-namespace --rootfs PATH --bind SRC:DST... -- <self> sysroot-runner ...

so the nested process starts fresh, single-threaded, already inside
the target namespace, and continues the interrupted phase.
sysroot-namespace-check runs the same preflight checks (unprivileged
user namespace support, required filesystem availability, NoNewPrivs/
seccomp/apparmor state) without entering anything, for diagnosing why
entry might fail ahead of time.
`

const topicReports = `Failure Reports
===============

When a step's strategy returns an error, the executor writes a JSON
failure report under the phase's report directory (or the
--report-dir override), named
<timestamp>-<phase>-<step>-<rand8>.json. The report records the phase
and step name, the effective environment the step ran with, the
command and exit code when the failure came from a spawned process,
the error text, and a UTC timestamp.

The same failure is recorded in the state file's last_failure field,
including the report path, so sysroot-runner can be re-run
after a fix without any extra arguments — the state machine knows
exactly where it left off.
`
