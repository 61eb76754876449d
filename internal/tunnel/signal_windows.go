//go:build windows

package tunnel

import "os"

// Windows has no SIGTERM for arbitrary processes.
var stopSignal = os.Kill
