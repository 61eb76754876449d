package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/internal/privilege"
	"github.com/hellotrik/port-killer/internal/terminator"
)

var (
	killForce    bool
	killEscalate time.Duration
)

var killCmd = &cobra.Command{
	Use:   "kill <port>",
	Short: "Stop every process listening on a port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := parsePort(args[0])
		if err != nil {
			return err
		}
		return runKill(cmd.Context(), port)
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <port>",
	Short: "Toggle a port in the favorites list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return togglePreference(args[0], "favorite")
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <port>",
	Short: "Toggle notifications when a port opens or closes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return togglePreference(args[0], "watch")
	},
}

func init() {
	killCmd.Flags().BoolVarP(&killForce, "force", "f", false, "send SIGKILL instead of SIGTERM")
	killCmd.Flags().DurationVar(&killEscalate, "escalate", 0, "send SIGTERM, then SIGKILL if still running after this long")
}

func runKill(ctx context.Context, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg, false)

	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout+time.Second)
	err = a.engine.Scan(scanCtx)
	cancel()
	if err != nil {
		return err
	}

	listeners := a.store.Load().PortsOn(port)
	if len(listeners) == 0 {
		fmt.Printf("Nothing is listening on port %d.\n", port)
		return nil
	}

	// One process may hold the port on several addresses.
	seen := make(map[int32]bool)
	var errs []error
	for _, l := range listeners {
		if seen[l.PID] {
			continue
		}
		seen[l.PID] = true

		if privilege.RequiresElevation(l.User) {
			log.Warn("listener is owned by another user, the signal may be refused", logging.KeyPID, l.PID, "owner", l.User)
		}
		if killEscalate > 0 {
			err = a.engine.KillPortEscalate(ctx, l, killEscalate)
		} else {
			err = a.engine.KillPort(ctx, l, killForce)
		}

		switch {
		case err == nil:
			fmt.Printf("Stopped %s (pid %d) on port %d\n", l.ProcessName, l.PID, port)
		case errors.Is(err, terminator.ErrNoSuchProcess):
			fmt.Printf("%s (pid %d) had already exited\n", l.ProcessName, l.PID)
		case errors.Is(err, terminator.ErrPermissionDenied):
			errs = append(errs, fmt.Errorf("%s (pid %d): permission denied, try again with elevated privileges", l.ProcessName, l.PID))
		default:
			errs = append(errs, fmt.Errorf("%s (pid %d): %w", l.ProcessName, l.PID, err))
		}
	}
	return errors.Join(errs...)
}

func togglePreference(arg, which string) error {
	port, err := parsePort(arg)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	initLogging(cfg, false)

	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	var on bool
	switch which {
	case "favorite":
		on, err = a.store.ToggleFavorite(port)
	case "watch":
		on, err = a.store.ToggleWatch(port)
	}
	if err != nil {
		return fmt.Errorf("port %d: preferences not saved: %w", port, err)
	}
	fmt.Println(toggleMessage(which, port, on))
	return nil
}

func toggleMessage(which string, port int, on bool) string {
	switch {
	case which == "favorite" && on:
		return fmt.Sprintf("Port %d added to favorites", port)
	case which == "favorite":
		return fmt.Sprintf("Port %d removed from favorites", port)
	case on:
		return fmt.Sprintf("Watching port %d", port)
	default:
		return fmt.Sprintf("No longer watching port %d", port)
	}
}
