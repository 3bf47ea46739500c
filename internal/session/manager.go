package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lessucettes/ircguard/internal/store"
	"github.com/lessucettes/ircguard/internal/watch"
)

// Manager owns every user's Session. Sessions are loaded on first use.
type Manager struct {
	store     store.Store
	matcher   *watch.Matcher
	collector MetricsCollector

	mu       sync.RWMutex
	sessions map[string]*Session
	sf       singleflight.Group
	wg       sync.WaitGroup
}

// NewManager creates a manager. collector may be nil.
func NewManager(st store.Store, m *watch.Matcher, collector MetricsCollector) *Manager {
	if m == nil {
		m = watch.NewMatcher(nil)
	}
	return &Manager{
		store:     st,
		matcher:   m,
		collector: collector,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the session of user, loading it from the store once.
func (m *Manager) Session(ctx context.Context, user string) (*Session, error) {
	if user == "" {
		return nil, errors.New("user must not be empty")
	}

	m.mu.RLock()
	s, ok := m.sessions[user]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := m.sf.Do(user, func() (any, error) {
		m.mu.RLock()
		s, ok := m.sessions[user]
		m.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := loadSession(ctx, user, m.store, m.matcher, m.collector)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", user, err)
		}
		m.mu.Lock()
		m.sessions[user] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Users lists the loaded sessions in name order.
func (m *Manager) Users() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.sessions))
	for u := range m.sessions {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// HandleEvent dispatches ev for user and hands every delivery to sink. While
// the user is attached deliveries go to BroadcastTarget, otherwise to the rule
// target. It returns the number of deliveries produced. A panic while
// dispatching is logged and the event dropped.
func (m *Manager) HandleEvent(ctx context.Context, user string, ev *watch.Event, net watch.Network, sink Sink) (n int, err error) {
	m.wg.Add(1)
	defer m.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered while dispatching event",
				"panic", r, "user", user, "kind", ev.Kind, "nick", ev.Nick, "stack", string(debug.Stack()),
			)
			n, err = 0, nil
		}
	}()

	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("invalid event: %w", err)
	}
	s, err := m.Session(ctx, user)
	if err != nil {
		return 0, err
	}
	if net == nil {
		net = &watch.NetworkState{User: user}
	}

	deliveries := s.Dispatch(ev, net)
	if m.collector != nil {
		m.collector.ReportDispatch(string(ev.Kind), len(deliveries))
	}

	nick := net.CurrentNick()
	var errs []error
	for _, d := range deliveries {
		target := d.Target
		if net.IsUserAttached() {
			target = BroadcastTarget
		}
		if err := sink.Deliver(ctx, target, d.WireLine(nick)); err != nil {
			slog.Error("Failed to deliver line", "user", user, "target", d.Target, "error", err)
			errs = append(errs, err)
			continue
		}
		slog.Debug("Event delivered", "user", user, "kind", ev.Kind, "target", d.Target)
	}
	return len(deliveries), errors.Join(errs...)
}

// Close waits for in-flight events to finish.
func (m *Manager) Close() error {
	m.wg.Wait()
	return nil
}
