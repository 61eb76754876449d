//go:build !windows

package tunnel

import "golang.org/x/sys/unix"

var stopSignal = unix.SIGTERM
