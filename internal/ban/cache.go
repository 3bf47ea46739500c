// Package ban implements the fail2ban attempt cache: a sliding-TTL map from
// remote address to failed login counters that decides admission.
package ban

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultTTL       = time.Minute
	DefaultThreshold = 2

	// RefuseMessage is sent to clients that are refused admission.
	RefuseMessage = "Please try again later - reconnecting too fast"
)

var (
	ErrNotFound        = errors.New("ban entry not found")
	ErrMalformedRecord = errors.New("malformed ban record")
)

// Entry is the state tracked for one remote address.
type Entry struct {
	Host      string    `json:"host"`
	Attempts  int       `json:"attempts"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Username  string    `json:"username,omitempty"`
}

// Remaining is the time left before the entry expires, never negative.
func (e Entry) Remaining(now time.Time, ttl time.Duration) time.Duration {
	return max(0, ttl-now.Sub(e.LastSeen))
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache tracks failed attempts per host. Entries idle for longer than the TTL
// are treated as absent by every read; eviction happens lazily on access or
// through Sweep.
//
// Cache is not safe for concurrent use.
type Cache struct {
	ttl       time.Duration
	threshold int
	now       func() time.Time

	entries map[string]*Entry
	order   []string // insertion order of live keys
}

// New creates a cache. Non-positive ttl or threshold select the defaults.
func New(ttl time.Duration, threshold int, opts ...Option) *Cache {
	c := &Cache{
		ttl:       DefaultTTL,
		threshold: DefaultThreshold,
		now:       time.Now,
		entries:   make(map[string]*Entry),
	}
	c.SetTTL(ttl)
	c.SetThreshold(threshold)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }
func (c *Cache) Threshold() int     { return c.threshold }

// SetTTL changes the idle timeout. It applies to existing entries as well.
func (c *Cache) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

func (c *Cache) SetThreshold(n int) {
	if n > 0 {
		c.threshold = n
	}
}

// RecordFailure counts a failed login for host and returns the new count.
func (c *Cache) RecordFailure(host, username string) int {
	now := c.now()
	e := c.live(host, now)
	if e == nil {
		e = c.insert(&Entry{Host: host, FirstSeen: now})
	}
	e.Attempts++
	e.LastSeen = now
	e.Username = username
	return e.Attempts
}

// RecordSuccess forgets host. It reports whether an entry was removed.
func (c *Cache) RecordSuccess(host string) bool {
	return c.remove(host)
}

// ShouldRefuse reports whether host has reached the attempt threshold. An
// empty host is never refused.
func (c *Cache) ShouldRefuse(host string) bool {
	if host == "" {
		return false
	}
	e, ok := c.entries[host]
	return ok && !c.expired(e, c.now()) && e.Attempts >= c.threshold
}

// RefreshOnRefusal re-arms the TTL of host without touching its attempts.
func (c *Cache) RefreshOnRefusal(host string) bool {
	now := c.now()
	e := c.live(host, now)
	if e == nil {
		return false
	}
	e.LastSeen = now
	return true
}

// Ban raises each host to the threshold so it is refused immediately. The
// attempt count of an existing entry is never lowered.
func (c *Cache) Ban(hosts ...string) {
	now := c.now()
	for _, host := range hosts {
		if host == "" {
			continue
		}
		e := c.live(host, now)
		if e == nil {
			e = c.insert(&Entry{Host: host, FirstSeen: now})
		}
		e.Attempts = max(e.Attempts, c.threshold)
		e.LastSeen = now
	}
}

// Unban removes host.
func (c *Cache) Unban(host string) error {
	if c.live(host, c.now()) == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	c.remove(host)
	return nil
}

// UnbanID removes the entry at the 1-based position of ListActive and returns
// its host.
func (c *Cache) UnbanID(id int) (string, error) {
	active := c.ListActive()
	if id < 1 || id > len(active) {
		return "", fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	host := active[id-1].Host
	c.remove(host)
	return host, nil
}

// Get returns a copy of the live entry for host.
func (c *Cache) Get(host string) (Entry, bool) {
	e, ok := c.entries[host]
	if !ok || c.expired(e, c.now()) {
		return Entry{}, false
	}
	return *e, true
}

// ListActive returns copies of all live entries in insertion order.
func (c *Cache) ListActive() []Entry {
	now := c.now()
	out := make([]Entry, 0, len(c.order))
	for _, host := range c.order {
		if e := c.entries[host]; !c.expired(e, now) {
			out = append(out, *e)
		}
	}
	return out
}

// Sweep evicts expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	n := 0
	c.order = slices.DeleteFunc(c.order, func(host string) bool {
		if c.expired(c.entries[host], now) {
			delete(c.entries, host)
			n++
			return true
		}
		return false
	})
	return n
}

func (c *Cache) Clear() {
	clear(c.entries)
	c.order = c.order[:0]
}

// Len counts live entries.
func (c *Cache) Len() int { return len(c.ListActive()) }

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return now.Sub(e.LastSeen) > c.ttl
}

// live returns the unexpired entry for host, evicting an expired one.
func (c *Cache) live(host string, now time.Time) *Entry {
	e, ok := c.entries[host]
	if !ok {
		return nil
	}
	if c.expired(e, now) {
		c.remove(host)
		return nil
	}
	return e
}

func (c *Cache) insert(e *Entry) *Entry {
	c.entries[e.Host] = e
	c.order = append(c.order, e.Host)
	return e
}

func (c *Cache) remove(host string) bool {
	if _, ok := c.entries[host]; !ok {
		return false
	}
	delete(c.entries, host)
	if i := slices.Index(c.order, host); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}
