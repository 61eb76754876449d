package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/hellotrik/port-killer/internal/logging"
)

var quickTunnelURL = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// StartCloudflared launches a cloudflared quick tunnel to localhost:port and
// waits until it prints its public URL or ctx ends. binary defaults to
// "cloudflared".
func StartCloudflared(ctx context.Context, binary string, port int) (*CommandTunnel, error) {
	if binary == "" {
		binary = "cloudflared"
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("tunnel: invalid port %d", port)
	}

	cmd := exec.Command(binary, "tunnel", "--no-autoupdate", "--url", "http://localhost:"+strconv.Itoa(port))
	// An os.Pipe instead of StderrPipe: the tunnel reaps the process in
	// the background, and Wait would close a StderrPipe under the reader.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cloudflared stderr: %w", err)
	}
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start cloudflared: %w", err)
	}
	pw.Close()

	id := fmt.Sprintf("cloudflared-%d-%d", port, cmd.Process.Pid)
	t, err := NewCommandTunnel(id, port, cmd)
	if err != nil {
		cmd.Process.Kill()
		pr.Close()
		return nil, err
	}

	found := make(chan string, 1)
	go func() {
		defer pr.Close()
		scanForURL(pr, found)
	}()

	select {
	case u, ok := <-found:
		if !ok {
			return nil, fmt.Errorf("cloudflared exited before reporting a URL")
		}
		t.setPublicURL(u)
		log.Info("quick tunnel ready", logging.KeyTunnelID, id, logging.KeyPort, port, "url", u)
		return t, nil
	case <-ctx.Done():
		t.Stop(context.Background())
		return nil, fmt.Errorf("waiting for cloudflared URL: %w", ctx.Err())
	}
}

// scanForURL reports the first quick-tunnel URL in r and keeps draining r
// so the child never blocks on a full pipe. found is closed if r ends
// without a URL.
func scanForURL(r io.Reader, found chan<- string) {
	sent := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if sent {
			continue
		}
		if u := quickTunnelURL.FindString(scanner.Text()); u != "" {
			found <- u
			sent = true
		}
	}
	if !sent {
		close(found)
	}
}
