package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lessucettes/ircguard/internal/ban"
	"github.com/lessucettes/ircguard/internal/store"
)

const (
	banNamespace      = "fail2ban"
	settingsNamespace = "fail2ban/settings"
)

// Admission stages reported to the collector.
const (
	StageConnect = "connect"
	StageLogin   = "login"
)

// Verdict is the admission decision for one connection or login.
type Verdict struct {
	Refused bool
	Message string
}

// ThrottleConfig seeds a Throttle.
type ThrottleConfig struct {
	Timeout       time.Duration
	Attempts      int
	RefuseMessage string
	BannedHosts   []string
}

// Throttle guards admission with a ban cache shared by all users. It is safe
// for concurrent use and persists its state after every change.
type Throttle struct {
	store     store.Store
	collector MetricsCollector

	mu      sync.Mutex
	cache   *ban.Cache
	message string
}

// NewThrottle loads the persisted ban state. Timeout and attempts changed at
// runtime and saved in the store take precedence over cfg; cfg.BannedHosts
// are banned on top of what was loaded.
func NewThrottle(ctx context.Context, st store.Store, cfg ThrottleConfig, collector MetricsCollector, opts ...ban.Option) (*Throttle, error) {
	t := &Throttle{
		store:     st,
		collector: collector,
		cache:     ban.New(cfg.Timeout, cfg.Attempts, opts...),
		message:   cfg.RefuseMessage,
	}
	if t.message == "" {
		t.message = ban.RefuseMessage
	}

	settings, err := st.LoadRecords(ctx, settingsNamespace)
	if err != nil {
		return nil, err
	}
	t.applySettings(settings)

	records, err := st.LoadRecords(ctx, banNamespace)
	if err != nil {
		return nil, err
	}
	if malformed := t.cache.Load(records); malformed > 0 {
		slog.Warn("Malformed ban records skipped while loading", "count", malformed)
		if collector != nil {
			collector.ReportLoad(banNamespace, malformed)
		}
	}

	if len(cfg.BannedHosts) > 0 {
		t.cache.Ban(cfg.BannedHosts...)
		if err := t.save(ctx); err != nil {
			return nil, err
		}
	}
	t.reportActive()
	return t, nil
}

// Connect decides whether a new connection from host is admitted. A refused
// host has its ban refreshed.
func (t *Throttle) Connect(ctx context.Context, host string) Verdict {
	return t.admit(ctx, StageConnect, host)
}

// LoginAttempt decides whether host may try to log in.
func (t *Throttle) LoginAttempt(ctx context.Context, host string) Verdict {
	return t.admit(ctx, StageLogin, host)
}

func (t *Throttle) admit(ctx context.Context, stage, host string) Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	refused := t.cache.ShouldRefuse(host)
	if t.collector != nil {
		t.collector.ReportAdmission(stage, refused)
	}
	if !refused {
		return Verdict{}
	}

	t.cache.RefreshOnRefusal(host)
	t.saveLogged(ctx)
	slog.Info("Refusing client", "stage", stage, "ip", host)
	return Verdict{Refused: true, Message: t.message}
}

// LoginFailed counts a failed login and returns the attempts so far.
func (t *Throttle) LoginFailed(ctx context.Context, host, username string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.cache.RecordFailure(host, username)
	t.saveLogged(ctx)
	slog.Debug("Failed login recorded", "ip", host, "username", username, "attempts", n)
	return n
}

// LoginOK forgets host after a successful login.
func (t *Throttle) LoginOK(ctx context.Context, host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache.RecordSuccess(host) {
		t.saveLogged(ctx)
	}
}

// Ban refuses every host immediately.
func (t *Throttle) Ban(ctx context.Context, hosts ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Ban(hosts...)
	return t.save(ctx)
}

// Unban removes a host, or the entry at a 1-based list position when target
// is a number. It returns the host that was removed.
func (t *Throttle) Unban(ctx context.Context, target string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	host := target
	if id, err := strconv.Atoi(target); err == nil {
		host, err = t.cache.UnbanID(id)
		if err != nil {
			return "", err
		}
	} else if err := t.cache.Unban(target); err != nil {
		return "", err
	}
	return host, t.save(ctx)
}

// Entry is a ban entry with its countdown.
type Entry struct {
	ban.Entry
	ExpiresIn string `json:"expires_in"`
}

// List returns the active entries in insertion order.
func (t *Throttle) List(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	ttl := t.cache.TTL()
	active := t.cache.ListActive()
	out := make([]Entry, len(active))
	for i, e := range active {
		out[i] = Entry{Entry: e, ExpiresIn: ban.FormatRemaining(e.Remaining(now, ttl))}
	}
	return out
}

func (t *Throttle) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.TTL()
}

func (t *Throttle) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Threshold()
}

// SetTimeout changes the idle timeout and persists it.
func (t *Throttle) SetTimeout(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", d)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.SetTTL(d)
	if err := t.saveSettings(ctx); err != nil {
		return err
	}
	// Stored ban records carry the old TTL; rewrite them with the new one.
	return t.save(ctx)
}

// SetAttempts changes the refusal threshold and persists it.
func (t *Throttle) SetAttempts(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("attempts must be positive, got %d", n)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.SetThreshold(n)
	return t.saveSettings(ctx)
}

// Reconfigure applies a reloaded configuration.
func (t *Throttle) Reconfigure(ctx context.Context, cfg ThrottleConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.SetTTL(cfg.Timeout)
	t.cache.SetThreshold(cfg.Attempts)
	if cfg.RefuseMessage != "" {
		t.message = cfg.RefuseMessage
	}
	if len(cfg.BannedHosts) > 0 {
		t.cache.Ban(cfg.BannedHosts...)
	}
	if err := t.saveSettings(ctx); err != nil {
		return err
	}
	return t.save(ctx)
}

// Sweep drops expired entries from memory and the store.
func (t *Throttle) Sweep(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.cache.Sweep()
	if n > 0 {
		t.saveLogged(ctx)
	}
	t.reportActive()
	return n
}

func (t *Throttle) reportActive() {
	if t.collector != nil {
		t.collector.SetActiveBans(t.cache.Len())
	}
}

func (t *Throttle) save(ctx context.Context) error {
	t.reportActive()
	if err := t.store.SaveRecords(ctx, banNamespace, t.cache.Records(), t.cache.TTL()); err != nil {
		return fmt.Errorf("failed to persist bans: %w", err)
	}
	return nil
}

func (t *Throttle) saveLogged(ctx context.Context) {
	if err := t.save(ctx); err != nil {
		slog.Error("Ban state not persisted", "error", err)
	}
}

func (t *Throttle) saveSettings(ctx context.Context) error {
	records := []string{
		"timeout=" + t.cache.TTL().String(),
		"attempts=" + strconv.Itoa(t.cache.Threshold()),
	}
	if err := t.store.SaveRecords(ctx, settingsNamespace, records, 0); err != nil {
		return fmt.Errorf("failed to persist fail2ban settings: %w", err)
	}
	return nil
}

func (t *Throttle) applySettings(records []string) {
	for _, rec := range records {
		key, val, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch key {
		case "timeout":
			if d, err := time.ParseDuration(val); err == nil {
				t.cache.SetTTL(d)
			}
		case "attempts":
			if n, err := strconv.Atoi(val); err == nil {
				t.cache.SetThreshold(n)
			}
		}
	}
}
