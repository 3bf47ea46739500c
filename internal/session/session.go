// Package session owns the per-user watch routers and the shared admission
// throttle, and binds them to persistence, output and metrics.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lessucettes/ircguard/internal/store"
	"github.com/lessucettes/ircguard/internal/watch"
)

// BroadcastTarget is the sink target used while the user has a client
// attached: the line goes to every connected client instead of a query buffer.
const BroadcastTarget = "*"

// Sink receives formatted lines for delivery.
type Sink interface {
	Deliver(ctx context.Context, target, line string) error
}

// MetricsCollector receives counters from sessions and the throttle.
type MetricsCollector interface {
	ReportDispatch(kind string, deliveries int)
	ReportAdmission(stage string, refused bool)
	ReportLoad(namespace string, malformed int)
	SetActiveBans(n int)
}

func watchNamespace(user string) string  { return "watch/" + user }
func exemptNamespace(user string) string { return "exempt/" + user }

// Session is one user's rule state. All methods are serialised on the session
// mutex; every successful mutation is written back to the store before the
// method returns.
type Session struct {
	user   string
	store  store.Store
	mu     sync.Mutex
	router *watch.Router
}

func loadSession(ctx context.Context, user string, st store.Store, m *watch.Matcher, metrics MetricsCollector) (*Session, error) {
	watches, err := st.LoadRecords(ctx, watchNamespace(user))
	if err != nil {
		return nil, err
	}
	exempts, err := st.LoadRecords(ctx, exemptNamespace(user))
	if err != nil {
		return nil, err
	}

	s := &Session{user: user, store: st, router: watch.NewRouter(m)}
	if malformed := s.router.Load(watches, exempts); malformed > 0 {
		slog.Warn("Malformed rule records skipped while loading", "user", user, "count", malformed)
		if metrics != nil {
			metrics.ReportLoad("watch", malformed)
		}
	}
	slog.Debug("Session loaded", "user", user, "watches", len(watches), "exempts", len(exempts))
	return s, nil
}

func (s *Session) User() string { return s.user }

// Dispatch routes one event through the user's rules.
func (s *Session) Dispatch(ev *watch.Event, net watch.Network) []watch.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router.Dispatch(ev, net)
}

func (s *Session) save(ctx context.Context) error {
	if err := s.store.SaveRecords(ctx, watchNamespace(s.user), s.router.WatchRecords(), 0); err != nil {
		return err
	}
	if err := s.store.SaveRecords(ctx, exemptNamespace(s.user), s.router.ExemptRecords(), 0); err != nil {
		return err
	}
	return nil
}

// mutate runs fn under the session lock and persists the result when fn
// succeeds. When the store rejects the write the router is rolled back, so
// memory never runs ahead of the store.
func (s *Session) mutate(ctx context.Context, fn func(r *watch.Router) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	watches, exempts := s.router.WatchRecords(), s.router.ExemptRecords()
	if err := fn(s.router); err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		s.router.Load(watches, exempts)
		return fmt.Errorf("failed to persist rules for %s: %w", s.user, err)
	}
	return nil
}

func (s *Session) AddWatch(ctx context.Context, hostmask, target, pattern string) (watch.WatchRule, error) {
	var rule watch.WatchRule
	err := s.mutate(ctx, func(r *watch.Router) (err error) {
		rule, err = r.AddWatch(hostmask, target, pattern)
		return err
	})
	return rule, err
}

func (s *Session) AddExempt(ctx context.Context, hostmask, pattern string) (watch.ExemptRule, error) {
	var rule watch.ExemptRule
	err := s.mutate(ctx, func(r *watch.Router) (err error) {
		rule, err = r.AddExempt(hostmask, pattern)
		return err
	})
	return rule, err
}

func (s *Session) RemoveWatch(ctx context.Context, id int) (watch.WatchRule, error) {
	var rule watch.WatchRule
	err := s.mutate(ctx, func(r *watch.Router) (err error) {
		rule, err = r.RemoveWatch(id)
		return err
	})
	return rule, err
}

func (s *Session) RemoveExempt(ctx context.Context, id int) (watch.ExemptRule, error) {
	var rule watch.ExemptRule
	err := s.mutate(ctx, func(r *watch.Router) (err error) {
		rule, err = r.RemoveExempt(id)
		return err
	})
	return rule, err
}

func (s *Session) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(r *watch.Router) error { r.Clear(); return nil })
}

func (s *Session) ClearExempts(ctx context.Context) error {
	return s.mutate(ctx, func(r *watch.Router) error { r.ClearExempts(); return nil })
}

func (s *Session) SetEnabled(ctx context.Context, id int, on bool) error {
	return s.mutate(ctx, func(r *watch.Router) error { return r.SetEnabled(id, on) })
}

func (s *Session) SetExemptEnabled(ctx context.Context, id int, on bool) error {
	return s.mutate(ctx, func(r *watch.Router) error { return r.SetExemptEnabled(id, on) })
}

func (s *Session) SetDetachedClientOnly(ctx context.Context, id int, on bool) error {
	return s.mutate(ctx, func(r *watch.Router) error { return r.SetDetachedClientOnly(id, on) })
}

func (s *Session) SetDetachedChannelOnly(ctx context.Context, id int, on bool) error {
	return s.mutate(ctx, func(r *watch.Router) error { return r.SetDetachedChannelOnly(id, on) })
}

func (s *Session) SetSources(ctx context.Context, id int, list string) error {
	return s.mutate(ctx, func(r *watch.Router) error { return r.SetSources(id, list) })
}

func (s *Session) SetExemptSources(ctx context.Context, id int, list string) error {
	return s.mutate(ctx, func(r *watch.Router) error { return r.SetExemptSources(id, list) })
}

func (s *Session) Watches() []watch.WatchRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router.Watches()
}

func (s *Session) Exempts() []watch.ExemptRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router.Exempts()
}

// Dump renders both rule lists as YAML.
func (s *Session) Dump() ([]byte, error) {
	s.mu.Lock()
	set := s.router.Export()
	s.mu.Unlock()
	return watch.MarshalRuleSet(set)
}

// Restore replaces both rule lists with a YAML dump and returns how many
// entries were skipped.
func (s *Session) Restore(ctx context.Context, data []byte) (int, error) {
	set, err := watch.UnmarshalRuleSet(data)
	if err != nil {
		return 0, err
	}
	var skipped int
	err = s.mutate(ctx, func(r *watch.Router) error {
		skipped = r.Import(set)
		return nil
	})
	return skipped, err
}
