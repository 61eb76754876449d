package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandNotifier shows desktop notifications by running the platform's
// notification tool.
type CommandNotifier struct {
	binary string
	args   func(n Notification) []string
	run    func(ctx context.Context, name string, args ...string) error
}

// NewCommandNotifier locates the platform notification tool on PATH.
func NewCommandNotifier() (*CommandNotifier, error) {
	path, err := exec.LookPath(notifyBinary)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", notifyBinary, err)
	}
	return &CommandNotifier{binary: path, args: notifyArgs, run: runNotifyCommand}, nil
}

func (c *CommandNotifier) Name() string { return notifyBinary }

func (c *CommandNotifier) Notify(ctx context.Context, n Notification) error {
	return c.run(ctx, c.binary, c.args(n)...)
}

func runNotifyCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
