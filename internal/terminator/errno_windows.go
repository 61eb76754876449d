//go:build windows

package terminator

import (
	"errors"

	"golang.org/x/sys/windows"
)

func classifyErrno(err error) error {
	switch {
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return ErrPermissionDenied
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER), errors.Is(err, windows.ERROR_NOT_FOUND):
		return ErrNoSuchProcess
	}
	return nil
}
