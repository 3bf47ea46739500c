package ban

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Encode serialises an entry as host, attempts, first seen, last seen and
// username joined by newlines. Times are unix seconds.
func Encode(e Entry) string {
	return strings.Join([]string{
		e.Host,
		strconv.Itoa(e.Attempts),
		strconv.FormatInt(e.FirstSeen.Unix(), 10),
		strconv.FormatInt(e.LastSeen.Unix(), 10),
		e.Username,
	}, "\n")
}

func Decode(rec string) (Entry, error) {
	f := strings.Split(rec, "\n")
	if len(f) != 5 || f[0] == "" {
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedRecord, rec)
	}
	attempts, err := strconv.Atoi(f[1])
	if err != nil || attempts < 1 {
		return Entry{}, fmt.Errorf("%w: bad attempts %q", ErrMalformedRecord, f[1])
	}
	first, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad first seen %q", ErrMalformedRecord, f[2])
	}
	last, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad last seen %q", ErrMalformedRecord, f[3])
	}
	return Entry{
		Host:      f[0],
		Attempts:  attempts,
		FirstSeen: time.Unix(first, 0),
		LastSeen:  time.Unix(last, 0),
		Username:  f[4],
	}, nil
}

// Records returns the live entries as persisted records in insertion order.
func (c *Cache) Records() []string {
	active := c.ListActive()
	out := make([]string, len(active))
	for i, e := range active {
		out[i] = Encode(e)
	}
	return out
}

// Load replaces the cache content with the given records. Malformed records
// are skipped and counted. Entries that already expired are dropped silently.
func (c *Cache) Load(records []string) (malformed int) {
	c.Clear()
	now := c.now()
	for _, rec := range records {
		e, err := Decode(rec)
		if err != nil {
			malformed++
			continue
		}
		if c.expired(&e, now) {
			continue
		}
		if _, dup := c.entries[e.Host]; dup {
			continue
		}
		c.insert(&e)
	}
	return malformed
}

// FormatRemaining renders a countdown such as 1h2m3s, or "Expired".
func FormatRemaining(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs <= 0 {
		return "Expired"
	}
	h := secs / 3600
	m := secs % 3600 / 60
	s := secs % 60

	var b strings.Builder
	if h > 0 {
		b.WriteString(strconv.FormatInt(h, 10) + "h")
	}
	if m > 0 {
		b.WriteString(strconv.FormatInt(m, 10) + "m")
	}
	if s > 0 || b.Len() == 0 {
		b.WriteString(strconv.FormatInt(s, 10) + "s")
	}
	return b.String()
}
