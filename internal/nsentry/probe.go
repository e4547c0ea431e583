package nsentry

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Probe examines host preconditions for namespace entry without mutating
// any state, returning one human-readable line per missing capability
// (spec §4.5 "Precondition reporting").
func Probe() []string {
	var restrictions []string

	if !unprivilegedUserNamespacesEnabled() {
		restrictions = append(restrictions, "unprivileged user namespaces are disabled (kernel.unprivileged_userns_clone=0)")
	}
	for _, fsType := range []string{"proc", "sysfs", "tmpfs"} {
		if !filesystemAvailable(fsType) {
			restrictions = append(restrictions, "filesystem type \""+fsType+"\" is not available (missing from /proc/filesystems)")
		}
	}

	status := readProcStatus()
	if status["NoNewPrivs"] == "1" {
		restrictions = append(restrictions, "NoNewPrivs is set on the current process")
	}
	if seccomp := status["Seccomp"]; seccomp != "" && seccomp != "0" {
		restrictions = append(restrictions, "a seccomp filter is already active (Seccomp="+seccomp+")")
	}

	if opts, err := devMountOptions(); err == nil && strings.Contains(opts, "nodev") {
		restrictions = append(restrictions, "/dev is mounted nodev, device node creation inside the rootfs may fail")
	}

	if profile := apparmorCurrentProfile(); profile != "" && profile != "unconfined" {
		restrictions = append(restrictions, "AppArmor is enforcing profile \""+profile+"\" on the current process")
	}

	return restrictions
}

func unprivilegedUserNamespacesEnabled() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		// Distros without the sysctl (e.g. vanilla upstream kernels) allow
		// user namespaces unconditionally.
		return true
	}
	v := strings.TrimSpace(string(data))
	return v != "0"
}

func filesystemAvailable(name string) bool {
	f, err := os.Open("/proc/filesystems")
	if err != nil {
		return true
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		last := fields[len(fields)-1]
		if last == name {
			return true
		}
	}
	return false
}

func readProcStatus() map[string]string {
	out := make(map[string]string)
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return out
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := line[:idx]
		val := strings.TrimSpace(line[idx+1:])
		if key == "Seccomp" {
			if _, err := strconv.Atoi(val); err != nil {
				continue
			}
		}
		out[key] = val
	}
	return out
}

func devMountOptions() (string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		for i, field := range fields {
			if field == "/dev" && i+1 < len(fields) {
				return fields[i+1], nil
			}
		}
	}
	return "", nil
}

func apparmorCurrentProfile() string {
	data, err := os.ReadFile("/proc/self/attr/current")
	if err != nil {
		return ""
	}
	profile := strings.TrimSpace(string(data))
	profile = strings.TrimSuffix(profile, " (enforce)")
	profile = strings.TrimSuffix(profile, " (complain)")
	return profile
}
