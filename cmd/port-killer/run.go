package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hellotrik/port-killer/internal/health"
	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/internal/tunnel"
	"github.com/hellotrik/port-killer/internal/websocket"
)

var (
	tunnelPorts     []int
	cloudflaredPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan continuously, serve the event feed and send watch notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	runCmd.Flags().IntSliceVar(&tunnelPorts, "tunnel", nil, "open a cloudflared quick tunnel to this port (repeatable)")
	runCmd.Flags().StringVar(&cloudflaredPath, "cloudflared", "cloudflared", "path to the cloudflared binary")
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCloser := initLogging(cfg, true)
	defer logCloser.Close()

	a, err := newApp(cfg, appOptions{daemon: true})
	if err != nil {
		return err
	}
	defer a.close()

	log.Info("starting port-killer", "version", version, "source", cfg.Source, "prefs", a.prefs.Path())

	var feed *websocket.Server
	if cfg.FeedAddr != "" {
		feed = websocket.New(websocket.Config{Addr: cfg.FeedAddr, MaxClients: cfg.FeedMaxClients}, a.engine)
		a.dispatcher.Add(feed)
		if err := feed.Start(); err != nil {
			return err
		}
	}

	a.dispatcher.Start()
	a.engine.Start()
	openTunnels(a)

	// Pick up favorites and watches changed by other port-killer commands.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := a.prefs.Watch(watchCtx, func() { reloadPreferences(a) }); err != nil {
		log.Warn("preferences will not be reloaded while running", logging.KeyError, err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+2*time.Second)
	defer cancel()

	if feed != nil {
		if err := feed.Stop(ctx); err != nil {
			log.Warn("feed shutdown incomplete", logging.KeyError, err)
		}
	}
	stopWatch()
	shutdownErr := a.engine.Shutdown(ctx)
	a.dispatcher.Stop(ctx)

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}

func reloadPreferences(a *app) {
	changed, err := a.store.ReloadPreferences()
	if err != nil {
		log.Warn("failed to reload preferences", logging.KeyError, err)
		return
	}
	if changed {
		log.Info("preferences reloaded", "path", a.prefs.Path())
	}
}

// openTunnels starts the requested quick tunnels. A tunnel that fails to
// start is logged and does not stop the daemon.
func openTunnels(a *app) {
	if len(tunnelPorts) == 0 {
		return
	}
	a.health.Register(health.ComponentTunnels)

	failed := 0
	for _, port := range tunnelPorts {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t, err := tunnel.StartCloudflared(ctx, cloudflaredPath, port)
		cancel()
		if err != nil {
			failed++
			log.Error("failed to open tunnel", logging.KeyPort, port, logging.KeyError, err)
			continue
		}
		if err := a.engine.Tunnels().Register(t); err != nil {
			failed++
			log.Error("failed to register tunnel", logging.KeyTunnelID, t.ID(), logging.KeyError, err)
			t.Stop(context.Background())
			continue
		}
		fmt.Printf("Tunnel for port %d: %s\n", port, t.PublicURL())
	}

	status := health.Healthy
	if failed > 0 {
		status = health.Degraded
	}
	a.health.Update(health.ComponentTunnels, status, fmt.Sprintf("%d of %d tunnels open", len(tunnelPorts)-failed, len(tunnelPorts)))
}
