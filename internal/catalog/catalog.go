package catalog

// Default is the static package catalog compiled into the builder
// (spec §3 Lifecycle: "the package catalog is static data compiled into
// the builder"). Versions and URLs are representative of a real
// musl/LLVM-based sysroot bootstrap; they are not re-fetched or verified
// by this package itself (that is internal/sourcecache's job).
var Default = []Package{
	{
		Name:           "m4",
		Version:        "1.4.19",
		URL:            "https://ftp.gnu.org/gnu/m4/m4-1.4.19.tar.gz",
		SHA256:         "63aede5c6d33b6d9b13511cd0be2cac046f2e70fd0a07aa154ba20a7ca8e71b0",
		Phases:         []string{"sysroot-from-alpine"},
		Strategy:       "autotools",
		ConfigureFlags: []string{"--disable-shared"},
	},
	{
		Name:           "bash",
		Version:        "5.2.21",
		URL:            "https://ftp.gnu.org/gnu/bash/bash-5.2.21.tar.gz",
		Phases:         []string{"sysroot-from-alpine", "system-from-sysroot"},
		Strategy:       "autotools",
		ConfigureFlags: []string{"--without-bash-malloc"},
	},
	{
		Name:     "linux",
		Version:  "6.6.21",
		URL:      "https://cdn.kernel.org/pub/linux/kernel/v6.x/linux-6.6.21.tar.xz",
		Phases:   []string{"sysroot-from-alpine"},
		Strategy: "linux-headers",
		ConfigureFlags: []string{
			"ARCH=x86_64",
		},
		BuildDirectory: "linux-6.6.21",
	},
	{
		Name:     "busybox",
		Version:  "1.36.1",
		URL:      "https://busybox.net/downloads/busybox-1.36.1.tar.bz2",
		Phases:   []string{"rootfs-from-sysroot"},
		Strategy: "busybox",
	},
	{
		Name:    "llvm-project",
		Version: "18.1.8",
		URL:     "https://github.com/llvm/llvm-project/releases/download/llvmorg-18.1.8/llvm-project-18.1.8.src.tar.xz",
		Phases:  []string{"sysroot-from-alpine"},
		// Strategy intentionally left blank: the two-stage expansion in
		// build.go assigns "cmake-project" to each derived step.
		ConfigureFlags: []string{"-DLLVM_ENABLE_PROJECTS=clang;lld"},
		BuildDirectory: "llvm-project-18.1.8.src",
	},
	{
		Name:              "bdwgc",
		Version:           "8.2.6",
		URL:               "https://github.com/ivmai/bdwgc/releases/download/v8.2.6/gc-8.2.6.tar.gz",
		Phases:            []string{"sysroot-from-alpine", "system-from-sysroot"},
		Strategy:          "cmake",
		BuildDirectory:    "gc-8.2.6",
		OutOfTreeBuildDir: "%{name}-%{phase}-build",
	},
	{
		Name:     "ncurses",
		Version:  "6.4",
		URL:      "https://ftp.gnu.org/gnu/ncurses/ncurses-6.4.tar.gz",
		Phases:   []string{"system-from-sysroot"},
		Strategy: "autotools",
		ConfigureFlags: []string{
			"--with-shared",
			"--without-debug",
		},
	},
	{
		Name:              "cmake",
		Version:           "3.29.3",
		URL:               "https://github.com/Kitware/CMake/releases/download/v3.29.3/cmake-3.29.3.tar.gz",
		Phases:            []string{"sysroot-from-alpine"},
		Strategy:          "cmake-project",
		OutOfTreeBuildDir: "%{name}-%{phase}-build",
	},
	{
		Name:     "crystal",
		Version:  "1.12.1",
		URL:      "https://github.com/crystal-lang/crystal/archive/refs/tags/1.12.1.tar.gz",
		Phases:   []string{"tools-from-system"},
		Strategy: "crystal-compiler",
	},
	{
		Name:     "bq2-build-tools",
		Version:  "0.0.0",
		URL:      "",
		Phases:   []string{"tools-from-system"},
		Strategy: "crystal-build",
	},
}
