//go:build !windows

package terminator

import (
	"errors"

	"golang.org/x/sys/unix"
)

func classifyErrno(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return ErrPermissionDenied
	case errors.Is(err, unix.ESRCH):
		return ErrNoSuchProcess
	}
	return nil
}
