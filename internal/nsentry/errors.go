package nsentry

import (
	"fmt"
	"syscall"
)

// Error is raised on any syscall failure during namespace entry (spec
// §4.5: "errors carry the errno and its description"). For EPERM on
// unshare, Hint carries instructions to enable the unprivileged
// user-namespace sysctl.
type Error struct {
	Op    string
	Errno syscall.Errno
	Hint  string
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("nsentry: %s: %s (%s)", e.Op, e.Errno, e.Hint)
	}
	return fmt.Sprintf("nsentry: %s: %s", e.Op, e.Errno)
}

func (e *Error) Unwrap() error { return e.Errno }

const unprivilegedUserNamespaceHint = "enable unprivileged user namespaces: sysctl -w kernel.unprivileged_userns_clone=1 (or kernel.apparmor_restrict_unprivileged_userns=0 on AppArmor-enforcing distros)"

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	errno, ok := err.(syscall.Errno)
	if !ok {
		return fmt.Errorf("nsentry: %s: %w", op, err)
	}
	nsErr := &Error{Op: op, Errno: errno}
	if op == "unshare(user)" && errno == syscall.EPERM {
		nsErr.Hint = unprivilegedUserNamespaceHint
	}
	return nsErr
}
