package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errMissingPayload = errors.New("missing payload")

// handle executes cmd and returns its result. Kill commands return a
// pending result; the final one is sent to c when the kill completes.
func (s *Server) handle(c *client, cmd Command) *CommandResult {
	log.Debug("processing command", "commandId", cmd.ID, "commandType", cmd.Type)
	store := s.eng.Store()

	switch cmd.Type {
	case CmdToggleFavorite:
		var p portPayload
		if err := decodePort(cmd.Payload, &p); err != nil {
			return failed(err)
		}
		on, err := store.ToggleFavorite(p.Port)
		if err != nil {
			return failed(fmt.Errorf("favorite on port %d not saved: %w", p.Port, err))
		}
		return ok(map[string]any{"port": p.Port, "favorite": on})

	case CmdToggleWatch:
		var p portPayload
		if err := decodePort(cmd.Payload, &p); err != nil {
			return failed(err)
		}
		on, err := store.ToggleWatch(p.Port)
		if err != nil {
			return failed(fmt.Errorf("watch on port %d not saved: %w", p.Port, err))
		}
		return ok(map[string]any{"port": p.Port, "watched": on})

	case CmdKillPort:
		return s.killPort(c, cmd)

	case CmdSetFilter:
		var p filterPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return failed(err)
		}
		store.SetFilter(p.MinPort, p.MaxPort)
		return ok(store.Load().Filter)

	case CmdResetFilter:
		store.ResetFilter()
		return ok(nil)

	case CmdSelectPort:
		var p selectPortPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return failed(err)
		}
		if !store.SelectPort(p.ID) {
			return failed(fmt.Errorf("port %q is not in the current snapshot", p.ID))
		}
		return ok(nil)

	case CmdSelectSidebar:
		var p sidebarPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return failed(err)
		}
		if err := store.SelectSidebar(p.Item); err != nil {
			return failed(err)
		}
		return ok(nil)

	case CmdSetTreeView:
		var p treeViewPayload
		if err := decode(cmd.Payload, &p); err != nil {
			return failed(err)
		}
		if err := store.SetTreeView(p.Enabled); err != nil {
			return failed(fmt.Errorf("tree view not saved: %w", err))
		}
		return ok(nil)

	case CmdRefresh:
		s.eng.RequestScan()
		return ok(nil)

	default:
		return failed(fmt.Errorf("unknown command %q", cmd.Type))
	}
}

func (s *Server) killPort(c *client, cmd Command) *CommandResult {
	var p killPayload
	if err := decode(cmd.Payload, &p); err != nil {
		return failed(err)
	}
	view := s.eng.Store().Load()
	info, found := view.PortByID(p.ID)
	if !found && p.ID == "" && p.Port > 0 {
		// Clients that only know the number get its first listener.
		if on := view.PortsOn(p.Port); len(on) > 0 {
			info, found = on[0], true
		}
	}
	if !found {
		return failed(fmt.Errorf("listener %q (port %d) is not in the current snapshot", p.ID, p.Port))
	}

	err := s.eng.SubmitKill(info, p.Force, func(err error) {
		res := CommandResult{Type: TypeCommandResult, CommandID: cmd.ID, Status: StatusOK, Result: info}
		if err != nil {
			res.Status = StatusError
			res.Error = err.Error()
		}
		c.sendJSON(res)
	})
	if err != nil {
		return failed(fmt.Errorf("kill not scheduled: %w", err))
	}
	return &CommandResult{Status: StatusPending, Result: info}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errMissingPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func decodePort(raw json.RawMessage, p *portPayload) error {
	if err := decode(raw, p); err != nil {
		return err
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range", p.Port)
	}
	return nil
}

func ok(result any) *CommandResult {
	return &CommandResult{Status: StatusOK, Result: result}
}

func failed(err error) *CommandResult {
	return &CommandResult{Status: StatusError, Error: err.Error()}
}
