package watch

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	recordSep      = "\n"
	stateEnabled   = "enabled"
	stateDisabled  = "disabled"
	watchFields    = 7
	watchFieldsOld = 5
	exemptFields   = 4
)

// EncodeWatch serialises a watch rule into one persisted record:
// hostmask, target, pattern, state, detached client, detached channel and
// sources joined by newlines.
func EncodeWatch(w *WatchRule) string {
	return strings.Join([]string{
		w.HostMask,
		w.Target,
		w.Pattern,
		encodeState(w.Disabled),
		strconv.FormatBool(w.DetachedClientOnly),
		strconv.FormatBool(w.DetachedChannelOnly),
		w.SourcesString(),
	}, recordSep)
}

// DecodeWatch parses a watch record. The older five field form without the
// detached flags is accepted too.
func DecodeWatch(rec string) (WatchRule, error) {
	f := strings.Split(rec, recordSep)
	if len(f) != watchFields && len(f) != watchFieldsOld {
		return WatchRule{}, fmt.Errorf("%w: watch record has %d fields", ErrMalformedRecord, len(f))
	}
	rule, err := NewWatchRule(f[0], f[1], f[2])
	if err != nil {
		return WatchRule{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rule.Disabled = strings.EqualFold(f[3], stateDisabled)
	if len(f) == watchFieldsOld {
		rule.SetSources(f[4])
		return rule, nil
	}
	rule.DetachedClientOnly = parseFlag(f[4])
	rule.DetachedChannelOnly = parseFlag(f[5])
	rule.SetSources(f[6])
	return rule, nil
}

// EncodeExempt serialises an exempt rule: hostmask, pattern, state, sources.
func EncodeExempt(e *ExemptRule) string {
	return strings.Join([]string{
		e.HostMask,
		e.Pattern,
		encodeState(e.Disabled),
		e.SourcesString(),
	}, recordSep)
}

func DecodeExempt(rec string) (ExemptRule, error) {
	f := strings.Split(rec, recordSep)
	if len(f) != exemptFields {
		return ExemptRule{}, fmt.Errorf("%w: exempt record has %d fields", ErrMalformedRecord, len(f))
	}
	rule, err := NewExemptRule(f[0], f[1])
	if err != nil {
		return ExemptRule{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	rule.Disabled = strings.EqualFold(f[2], stateDisabled)
	rule.SetSources(f[3])
	return rule, nil
}

// Load replaces both rule lists from persisted records. Malformed records are
// skipped and counted; the rest load in order.
func (r *Router) Load(watches, exempts []string) (malformed int) {
	r.watches = r.watches[:0]
	r.exempts = r.exempts[:0]
	for _, rec := range watches {
		rule, err := DecodeWatch(rec)
		if err != nil {
			malformed++
			continue
		}
		r.watches = append(r.watches, &rule)
	}
	for _, rec := range exempts {
		rule, err := DecodeExempt(rec)
		if err != nil {
			malformed++
			continue
		}
		r.exempts = append(r.exempts, &rule)
	}
	return malformed
}

// WatchRecords returns the watch list as persisted records in list order.
func (r *Router) WatchRecords() []string {
	out := make([]string, len(r.watches))
	for i, w := range r.watches {
		out[i] = EncodeWatch(w)
	}
	return out
}

// ExemptRecords returns the exempt list as persisted records in list order.
func (r *Router) ExemptRecords() []string {
	out := make([]string, len(r.exempts))
	for i, e := range r.exempts {
		out[i] = EncodeExempt(e)
	}
	return out
}

func encodeState(disabled bool) string {
	if disabled {
		return stateDisabled
	}
	return stateEnabled
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
