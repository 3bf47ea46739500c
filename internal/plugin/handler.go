package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lessucettes/ircguard/internal/session"
	"github.com/lessucettes/ircguard/internal/watch"
)

// Handler executes inputs against the session manager and the throttle.
type Handler struct {
	manager  *session.Manager
	throttle *session.Throttle
	out      *Writer
	network  string
	now      func() time.Time
}

func NewHandler(manager *session.Manager, throttle *session.Throttle, out *Writer) *Handler {
	return &Handler{manager: manager, throttle: throttle, out: out, now: time.Now}
}

// SetNetwork names the network for inputs whose snapshot carries no name.
func (h *Handler) SetNetwork(name string) { h.network = name }

// Handle processes one input. Errors are reported to the host in the output
// and only a failure to write is returned.
func (h *Handler) Handle(ctx context.Context, in *Input) error {
	switch in.Type {
	case TypeEvent:
		if in.Event == nil {
			slog.Warn("Event input without event", "user", in.User)
			return nil
		}
		var net watch.Network
		if in.Network != nil {
			if in.Network.Name == "" {
				in.Network.Name = h.network
			}
			net = in.Network
		}
		if _, err := h.manager.HandleEvent(ctx, in.User, in.Event, net, h.out.SinkFor(in.User)); err != nil {
			slog.Error("Error processing event", "user", in.User, "kind", in.Event.Kind, "error", err)
		}
		return nil

	case TypeConnect:
		return h.verdict(in, h.throttle.Connect(ctx, in.IP))
	case TypeLoginAttempt:
		return h.verdict(in, h.throttle.LoginAttempt(ctx, in.IP))
	case TypeLoginFailed:
		n := h.throttle.LoginFailed(ctx, in.IP, in.Username)
		return h.result(in, map[string]int{"attempts": n}, nil)
	case TypeLoginOK:
		h.throttle.LoginOK(ctx, in.IP)
		return h.result(in, nil, nil)

	case TypeAdmin:
		if in.Command == nil {
			return h.result(in, nil, errors.New("admin input without command"))
		}
		data, err := h.admin(ctx, in.User, in.Command)
		if err != nil {
			slog.Info("Admin command failed", "user", in.User, "op", in.Command.Op, "error", err)
		}
		return h.result(in, data, err)
	}

	slog.Warn("Unknown input type", "type", in.Type)
	return h.result(in, nil, fmt.Errorf("unknown input type %q", in.Type))
}

func (h *Handler) verdict(in *Input, v session.Verdict) error {
	out := Output{Type: TypeVerdict, ID: in.ID, Action: ActionAccept}
	if v.Refused {
		out.Action = ActionRefuse
		out.Msg = v.Message
	}
	return h.out.Write(out)
}

func (h *Handler) result(in *Input, data any, err error) error {
	ok := err == nil
	out := Output{Type: TypeResult, ID: in.ID, User: in.User, OK: &ok, Data: data}
	if err != nil {
		out.Error = err.Error()
	}
	return h.out.Write(out)
}

// WatchRow is a watch rule with its current position.
type WatchRow struct {
	ID int `json:"id"`
	watch.WatchRule
}

// ExemptRow is an exempt rule with its current position.
type ExemptRow struct {
	ID int `json:"id"`
	watch.ExemptRule
}

// UnbanResult is the outcome of unbanning one target, a host or a 1-based
// ban list ID.
type UnbanResult struct {
	Target string `json:"target"`
	Host   string `json:"host,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) admin(ctx context.Context, user string, cmd *Command) (any, error) {
	op := strings.ToLower(cmd.Op)
	switch op {
	case "timeout":
		if cmd.Value != "" {
			d, err := parseMinutes(cmd.Value)
			if err != nil {
				return nil, err
			}
			if err := h.throttle.SetTimeout(ctx, d); err != nil {
				return nil, err
			}
		}
		return map[string]string{"timeout": h.throttle.Timeout().String()}, nil
	case "attempts":
		if cmd.Value != "" {
			n, err := strconv.Atoi(cmd.Value)
			if err != nil {
				return nil, fmt.Errorf("attempts must be a number: %w", err)
			}
			if err := h.throttle.SetAttempts(ctx, n); err != nil {
				return nil, err
			}
		}
		return map[string]int{"attempts": h.throttle.Attempts()}, nil
	case "ban":
		if len(cmd.Hosts) == 0 {
			return nil, errors.New("ban needs at least one host")
		}
		return cmd.Hosts, h.throttle.Ban(ctx, cmd.Hosts...)
	case "unban":
		if len(cmd.Hosts) == 0 {
			return nil, errors.New("unban needs at least one host")
		}
		results := make([]UnbanResult, 0, len(cmd.Hosts))
		for _, target := range cmd.Hosts {
			res := UnbanResult{Target: target}
			host, err := h.throttle.Unban(ctx, target)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Host = host
			}
			results = append(results, res)
		}
		return results, nil
	case "banlist":
		return h.throttle.List(h.now()), nil
	}

	s, err := h.manager.Session(ctx, user)
	if err != nil {
		return nil, err
	}

	switch op {
	case "add":
		return s.AddWatch(ctx, cmd.HostMask, cmd.Target, cmd.Pattern)
	case "del":
		id, err := parseID(cmd.Rule, false)
		if err != nil {
			return nil, err
		}
		return s.RemoveWatch(ctx, id)
	case "list":
		rules := s.Watches()
		rows := make([]WatchRow, len(rules))
		for i, r := range rules {
			rows[i] = WatchRow{ID: i + 1, WatchRule: r}
		}
		return rows, nil
	case "clear":
		return nil, s.Clear(ctx)
	case "enable", "disable":
		id, err := parseID(cmd.Rule, true)
		if err != nil {
			return nil, err
		}
		return nil, s.SetEnabled(ctx, id, op == "enable")
	case "setsources":
		id, err := parseID(cmd.Rule, false)
		if err != nil {
			return nil, err
		}
		return nil, s.SetSources(ctx, id, cmd.Sources)
	case "setdetachedclientonly":
		id, err := parseID(cmd.Rule, true)
		if err != nil {
			return nil, err
		}
		return nil, s.SetDetachedClientOnly(ctx, id, cmd.On)
	case "setdetachedchannelonly":
		id, err := parseID(cmd.Rule, true)
		if err != nil {
			return nil, err
		}
		return nil, s.SetDetachedChannelOnly(ctx, id, cmd.On)
	case "dump":
		data, err := s.Dump()
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "restore":
		skipped, err := s.Restore(ctx, []byte(cmd.Data))
		if err != nil {
			return nil, err
		}
		return map[string]int{"skipped": skipped}, nil

	case "exemptadd":
		return s.AddExempt(ctx, cmd.HostMask, cmd.Pattern)
	case "exemptdel":
		id, err := parseID(cmd.Rule, false)
		if err != nil {
			return nil, err
		}
		return s.RemoveExempt(ctx, id)
	case "exemptlist":
		rules := s.Exempts()
		rows := make([]ExemptRow, len(rules))
		for i, r := range rules {
			rows[i] = ExemptRow{ID: i + 1, ExemptRule: r}
		}
		return rows, nil
	case "exemptclear":
		return nil, s.ClearExempts(ctx)
	case "exemptenable", "exemptdisable":
		id, err := parseID(cmd.Rule, true)
		if err != nil {
			return nil, err
		}
		return nil, s.SetExemptEnabled(ctx, id, op == "exemptenable")
	case "exemptsetsources":
		id, err := parseID(cmd.Rule, false)
		if err != nil {
			return nil, err
		}
		return nil, s.SetExemptSources(ctx, id, cmd.Sources)
	}
	return nil, fmt.Errorf("unknown command %q", cmd.Op)
}

func parseID(s string, allowAll bool) (int, error) {
	if allowAll && (s == "*" || strings.EqualFold(s, "all")) {
		return watch.All, nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %q", watch.ErrInvalidID, s)
	}
	return id, nil
}

// parseMinutes accepts a Go duration or a bare number of minutes.
func parseMinutes(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return d, nil
}
