//go:build unix

package tasks

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pidAlive sends signal 0 to pid. EPERM still means the process exists.
func pidAlive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, err
	}
}
