// Package nsentry implements unprivileged rootfs entry (spec §4.5):
// unsharing user/mount namespaces, writing uid/gid maps, mounting virtual
// filesystems, and pivoting into a prepared root.
package nsentry

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// capSysAdmin is bit 21 of the capability bitmask (CAP_SYS_ADMIN).
const capSysAdmin = 1 << 21

// rootfsMarker mirrors executor.RootfsMarker: its presence at the new
// root tells the executor it is already running inside the pivoted
// rootfs and need not request namespace entry again.
const rootfsMarker = ".bq2-rootfs"

// Options configures one namespace-entry call.
type Options struct {
	// Rootfs is the prepared root to pivot into.
	Rootfs string
	// ExtraBinds are "src:dst" pairs applied after the rootfs self-bind,
	// relative to Rootfs (spec §4.5 step 5).
	ExtraBinds []string
	// BindHostDev selects recursively binding the host's /dev (default)
	// instead of mounting a curated tmpfs with minimal device nodes.
	BindHostDev bool
	// DetachOldRoot unmounts and removes the old root after pivoting
	// (spec §4.5 step 7, "Optionally").
	DetachOldRoot bool
}

// Enter performs the full sequence of spec §4.5. The unshare calls only
// affect the calling OS thread, so Enter locks the calling goroutine to
// its thread and leaves it locked: a later exec from the same goroutine
// runs on the thread whose namespaces were changed.
func Enter(opts Options) error {
	runtime.LockOSThread()

	if !hasCapSysAdmin() {
		if err := enterUserNamespace(); err != nil {
			return err
		}
	}

	if err := wrap("unshare(mount)", unix.Unshare(unix.CLONE_NEWNS)); err != nil {
		return err
	}

	if err := wrap("mount(private,rec)", unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, "")); err != nil {
		return err
	}

	if err := wrap("mount(rootfs self-bind)", unix.Mount(opts.Rootfs, opts.Rootfs, "", unix.MS_BIND|unix.MS_REC, "")); err != nil {
		return err
	}

	for _, bind := range opts.ExtraBinds {
		src, dst, ok := strings.Cut(bind, ":")
		if !ok {
			return fmt.Errorf("nsentry: malformed bind spec %q, want \"src:dst\"", bind)
		}
		target := filepath.Join(opts.Rootfs, dst)
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("nsentry: creating bind target %q: %w", target, err)
		}
		if err := wrap("mount(extra bind)", unix.Mount(src, target, "", unix.MS_BIND|unix.MS_REC, "")); err != nil {
			return err
		}
	}

	if err := mountVirtualFilesystems(opts); err != nil {
		return err
	}

	return pivot(opts)
}

func hasCapSysAdmin() bool {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return false
		}
		mask, err := strconv.ParseUint(fields[1], 16, 64)
		if err != nil {
			return false
		}
		return mask&capSysAdmin != 0
	}
	return false
}

func enterUserNamespace() error {
	uid := os.Getuid()
	gid := os.Getgid()
	if err := wrap("unshare(user)", unix.Unshare(unix.CLONE_NEWUSER)); err != nil {
		return err
	}

	if err := os.WriteFile("/proc/self/setgroups", []byte("deny"), 0); err != nil {
		if !os.IsPermission(err) || uid != 0 {
			return wrap("setgroups", err)
		}
	}

	if err := os.WriteFile("/proc/self/uid_map", []byte(fmt.Sprintf("0 %d 1", uid)), 0); err != nil {
		return wrap("uid_map", err)
	}
	if err := os.WriteFile("/proc/self/gid_map", []byte(fmt.Sprintf("0 %d 1", gid)), 0); err != nil {
		return wrap("gid_map", err)
	}
	return nil
}

func mountVirtualFilesystems(opts Options) error {
	root := opts.Rootfs

	procTarget := filepath.Join(root, "proc")
	if err := mkdirAndBind("/proc", procTarget); err != nil {
		return err
	}
	if err := wrap("mount(proc remount)", unix.Mount("", procTarget, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")); err != nil {
		return err
	}

	if err := mkdirAndBind("/sys", filepath.Join(root, "sys")); err != nil {
		return err
	}

	devTarget := filepath.Join(root, "dev")
	if opts.BindHostDev {
		if err := mkdirAndBind("/dev", devTarget); err != nil {
			return err
		}
	} else {
		if err := mountTmpfs(devTarget, "mode=755"); err != nil {
			return err
		}
		if err := populateMinimalDev(devTarget); err != nil {
			return err
		}
	}

	if err := mountTmpfs(filepath.Join(root, "tmp"), ""); err != nil {
		return err
	}

	if !opts.BindHostDev {
		if err := mountTmpfs(filepath.Join(devTarget, "shm"), ""); err != nil {
			return err
		}
	}
	return nil
}

func mkdirAndBind(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("nsentry: creating %q: %w", dst, err)
	}
	return wrap(fmt.Sprintf("mount(bind %s)", src), unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REC, ""))
}

func mountTmpfs(dst, data string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("nsentry: creating %q: %w", dst, err)
	}
	return wrap("mount(tmpfs "+dst+")", unix.Mount("tmpfs", dst, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, data))
}

// devNodes are the minimal character devices populated into a curated
// tmpfs /dev (spec §4.5 step 6).
var devNodes = []struct {
	name         string
	major, minor uint32
	mode         uint32
}{
	{"null", 1, 3, 0666},
	{"zero", 1, 5, 0666},
	{"random", 1, 8, 0666},
	{"urandom", 1, 9, 0666},
	{"tty", 5, 0, 0666},
}

func populateMinimalDev(devTarget string) error {
	for _, n := range devNodes {
		path := filepath.Join(devTarget, n.name)
		dev := unix.Mkdev(n.major, n.minor)
		if err := unix.Mknod(path, unix.S_IFCHR|n.mode, int(dev)); err != nil {
			return wrap("mknod("+n.name+")", err)
		}
	}
	return os.Symlink("/proc/self/fd", filepath.Join(devTarget, "fd"))
}

// pivot performs spec §4.5 step 7.
func pivot(opts Options) error {
	marker := filepath.Join(opts.Rootfs, ".pivot_root")
	if err := os.MkdirAll(marker, 0755); err != nil {
		return fmt.Errorf("nsentry: creating pivot marker: %w", err)
	}

	if err := os.Chdir(opts.Rootfs); err != nil {
		return fmt.Errorf("nsentry: chdir(%q): %w", opts.Rootfs, err)
	}
	if err := wrap("pivot_root", unix.PivotRoot(".", ".pivot_root")); err != nil {
		return err
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("nsentry: chdir(/): %w", err)
	}
	if err := os.WriteFile(filepath.Join("/", rootfsMarker), nil, 0644); err != nil {
		return fmt.Errorf("nsentry: writing rootfs marker: %w", err)
	}

	if opts.DetachOldRoot {
		if err := wrap("unmount(old root)", unix.Unmount("/.pivot_root", unix.MNT_DETACH)); err != nil {
			return err
		}
		if err := os.RemoveAll("/.pivot_root"); err != nil {
			return fmt.Errorf("nsentry: removing old root mount point: %w", err)
		}
	}
	return nil
}
