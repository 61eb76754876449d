package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hellotrik/port-killer/internal/logging"
)

const defaultStopGrace = 3 * time.Second

// CommandTunnel wraps an already-started forwarding process.
type CommandTunnel struct {
	id    string
	port  int
	cmd   *exec.Cmd
	grace time.Duration

	done    chan struct{}
	waitErr error

	mu        sync.Mutex
	publicURL string
}

// NewCommandTunnel adopts cmd, which must already be started, and reaps it
// in the background.
func NewCommandTunnel(id string, port int, cmd *exec.Cmd) (*CommandTunnel, error) {
	if cmd == nil || cmd.Process == nil {
		return nil, errors.New("tunnel: command has not been started")
	}
	t := &CommandTunnel{
		id:    id,
		port:  port,
		cmd:   cmd,
		grace: defaultStopGrace,
		done:  make(chan struct{}),
	}
	go func() {
		t.waitErr = cmd.Wait()
		close(t.done)
	}()
	return t, nil
}

func (t *CommandTunnel) ID() string { return t.id }

func (t *CommandTunnel) Port() int { return t.port }

// PID returns the forwarding process id.
func (t *CommandTunnel) PID() int { return t.cmd.Process.Pid }

// PublicURL returns the URL the tunnel is reachable at, if known.
func (t *CommandTunnel) PublicURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publicURL
}

func (t *CommandTunnel) setPublicURL(u string) {
	t.mu.Lock()
	t.publicURL = u
	t.mu.Unlock()
}

// Done is closed once the process has exited.
func (t *CommandTunnel) Done() <-chan struct{} { return t.done }

// Stop asks the process to exit, then kills it if it is still running
// after the grace period. A process that already exited is not an error.
func (t *CommandTunnel) Stop(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	default:
	}

	if err := t.cmd.Process.Signal(stopSignal); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug("stop signal failed, killing", logging.KeyTunnelID, t.id, logging.KeyError, err)
	}

	grace := time.NewTimer(t.grace)
	defer grace.Stop()

	select {
	case <-t.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", t.PID(), err)
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pid %d did not exit: %w", t.PID(), ctx.Err())
	}
}
