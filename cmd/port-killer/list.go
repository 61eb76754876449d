package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/hellotrik/port-killer/internal/state"
	"github.com/hellotrik/port-killer/pkg/models"
)

var (
	listTree    bool
	listJSON    bool
	listMin     int
	listMax     int
	listSidebar string
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Scan once and print the listening ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listTree, "tree", false, "group listeners by process")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON instead of a table")
	listCmd.Flags().IntVar(&listMin, "min", 0, "lowest port to show")
	listCmd.Flags().IntVar(&listMax, "max", 0, "highest port to show")
	listCmd.Flags().StringVar(&listSidebar, "show", string(models.SidebarAll), "all, favorites, watched or type:<category>")
}

func runList(cmd *cobra.Command) error {
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

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ScanTimeout+time.Second)
	defer cancel()
	if err := a.engine.Scan(ctx); err != nil {
		return err
	}

	var minPort, maxPort *int
	if cmd.Flags().Changed("min") {
		minPort = &listMin
	}
	if cmd.Flags().Changed("max") {
		maxPort = &listMax
	}
	if minPort != nil || maxPort != nil {
		a.store.SetFilter(minPort, maxPort)
	}
	if err := a.store.SelectSidebar(models.SidebarItem(listSidebar)); err != nil {
		return err
	}

	v := a.store.Load()
	ports := v.PortsFor(v.SelectedSidebarItem)

	// --tree overrides the saved preference for this run only.
	tree := v.TreeView
	if cmd.Flags().Changed("tree") {
		tree = listTree
	}
	if tree {
		groups := groupsFor(v, ports)
		if listJSON {
			return printJSON(groups)
		}
		fmt.Println(renderGroups(v, groups))
		return nil
	}
	if listJSON {
		return printJSON(ports)
	}
	fmt.Println(renderPorts(v, ports))
	return nil
}

// groupsFor keeps the groups that own at least one of ports.
func groupsFor(v *state.View, ports []models.PortInfo) []models.ProcessGroup {
	pids := make(map[int32]bool, len(ports))
	for _, p := range ports {
		pids[p.PID] = true
	}
	out := make([]models.ProcessGroup, 0, len(pids))
	for _, g := range v.Groups() {
		if pids[g.ID] {
			out = append(out, g)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

func renderPorts(v *state.View, ports []models.PortInfo) string {
	if len(ports) == 0 {
		return "No listening ports."
	}

	t := newTable("PORT", "ADDRESS", "PID", "PROCESS", "TYPE", "USER", "")
	for _, p := range ports {
		t.Row(
			strconv.Itoa(p.Port),
			p.Address,
			strconv.Itoa(int(p.PID)),
			p.ProcessName,
			p.ProcessType.DisplayName(),
			p.User,
			marks(v, p.Port),
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if col == 1 || col == 5 {
			return dimStyle
		}
		return cellStyle
	})
	return t.String()
}

func renderGroups(v *state.View, groups []models.ProcessGroup) string {
	if len(groups) == 0 {
		return "No listening ports."
	}

	t := newTable("PID", "PROCESS", "PORTS", "RELATED PIDS")
	for _, g := range groups {
		ports := make([]string, len(g.Ports))
		for i, p := range g.Ports {
			ports[i] = p.DisplayPort() + marks(v, p.Port)
		}
		t.Row(
			strconv.Itoa(int(g.ID)),
			g.ProcessName,
			strings.Join(ports, " "),
			relatedPIDs(g),
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if col == 3 {
			return dimStyle
		}
		return cellStyle
	})
	return t.String()
}

// marks renders the favorite and watched badges for a port.
func marks(v *state.View, port int) string {
	var s string
	if v.IsFavorite(port) {
		s += "★"
	}
	if v.IsWatched(port) {
		s += "◉"
	}
	return s
}

func relatedPIDs(g models.ProcessGroup) string {
	if !g.HasRelatedProcesses() {
		return "-"
	}
	pids := make([]int, 0, len(g.RelatedPIDs))
	for pid := range g.RelatedPIDs {
		if pid != g.ID {
			pids = append(pids, int(pid))
		}
	}
	sort.Ints(pids)
	out := make([]string, len(pids))
	for i, pid := range pids {
		out[i] = strconv.Itoa(pid)
	}
	return strings.Join(out, ",")
}
