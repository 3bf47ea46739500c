package watch

import (
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// All selects every rule of a list in the Set* operations.
const All = -1

// relayIdent and relayHost form the source of relayed lines.
const (
	relayIdent = "watch"
	relayHost  = "znc.in"
)

// Delivery is one copy of an event routed to a target.
type Delivery struct {
	Target string
	Line   string
}

// lineBreaks strips the characters that would end or corrupt an IRC line.
var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ", "\x00", "")

// WireLine formats the delivery as a PRIVMSG from the target pseudo-user to
// the given nick. CR and LF become spaces and NUL is dropped, so the result
// is always a single line.
func (d Delivery) WireLine(nick string) string {
	target, nick, text := lineBreaks.Replace(d.Target), lineBreaks.Replace(nick), lineBreaks.Replace(d.Line)
	msg := ircmsg.MakeMessage(nil, target+"!"+relayIdent+"@"+relayHost, "PRIVMSG", nick, text)
	line, err := msg.Line()
	if err != nil {
		return ":" + target + "!" + relayIdent + "@" + relayHost + " PRIVMSG " + nick + " :" + text
	}
	return strings.TrimRight(line, "\r\n")
}

// Router holds the ordered watch and exempt lists of one user. IDs are 1-based
// positions; removing a rule shifts the IDs of the rules after it.
//
// A Router is not safe for concurrent use. Each user's router must only be
// touched from that user's serialised event flow.
type Router struct {
	matcher *Matcher
	watches []*WatchRule
	exempts []*ExemptRule
}

func NewRouter(m *Matcher) *Router {
	if m == nil {
		m = NewMatcher(nil)
	}
	return &Router{matcher: m}
}

// AddWatch appends a watch rule unless an equal one exists.
func (r *Router) AddWatch(hostmask, target, pattern string) (WatchRule, error) {
	rule, err := NewWatchRule(hostmask, target, pattern)
	if err != nil {
		return WatchRule{}, err
	}
	for _, w := range r.watches {
		if w.Equal(&rule) {
			return *w, fmt.Errorf("%w: %s", ErrDuplicateRule, rule.HostMask)
		}
	}
	r.watches = append(r.watches, &rule)
	return rule, nil
}

// AddExempt appends an exempt rule unless an equal one exists.
func (r *Router) AddExempt(hostmask, pattern string) (ExemptRule, error) {
	rule, err := NewExemptRule(hostmask, pattern)
	if err != nil {
		return ExemptRule{}, err
	}
	for _, e := range r.exempts {
		if e.Equal(&rule) {
			return *e, fmt.Errorf("%w: %s", ErrDuplicateRule, rule.HostMask)
		}
	}
	r.exempts = append(r.exempts, &rule)
	return rule, nil
}

func (r *Router) RemoveWatch(id int) (WatchRule, error) {
	if id < 1 || id > len(r.watches) {
		return WatchRule{}, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	removed := *r.watches[id-1]
	r.watches = append(r.watches[:id-1], r.watches[id:]...)
	return removed, nil
}

func (r *Router) RemoveExempt(id int) (ExemptRule, error) {
	if id < 1 || id > len(r.exempts) {
		return ExemptRule{}, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	removed := *r.exempts[id-1]
	r.exempts = append(r.exempts[:id-1], r.exempts[id:]...)
	return removed, nil
}

// Clear drops every watch rule.
func (r *Router) Clear() { r.watches = nil }

// ClearExempts drops every exempt rule.
func (r *Router) ClearExempts() { r.exempts = nil }

func (r *Router) SetEnabled(id int, enabled bool) error {
	return r.eachWatch(id, func(w *WatchRule) { w.Disabled = !enabled })
}

func (r *Router) SetDetachedClientOnly(id int, on bool) error {
	return r.eachWatch(id, func(w *WatchRule) { w.DetachedClientOnly = on })
}

func (r *Router) SetDetachedChannelOnly(id int, on bool) error {
	return r.eachWatch(id, func(w *WatchRule) { w.DetachedChannelOnly = on })
}

// SetSources replaces the source filter of one watch rule.
func (r *Router) SetSources(id int, list string) error {
	if id == All {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return r.eachWatch(id, func(w *WatchRule) { w.SetSources(list) })
}

func (r *Router) SetExemptEnabled(id int, enabled bool) error {
	return r.eachExempt(id, func(e *ExemptRule) { e.Disabled = !enabled })
}

func (r *Router) SetExemptSources(id int, list string) error {
	if id == All {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return r.eachExempt(id, func(e *ExemptRule) { e.SetSources(list) })
}

func (r *Router) eachWatch(id int, fn func(*WatchRule)) error {
	if id == All {
		for _, w := range r.watches {
			fn(w)
		}
		return nil
	}
	if id < 1 || id > len(r.watches) {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	fn(r.watches[id-1])
	return nil
}

func (r *Router) eachExempt(id int, fn func(*ExemptRule)) error {
	if id == All {
		for _, e := range r.exempts {
			fn(e)
		}
		return nil
	}
	if id < 1 || id > len(r.exempts) {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	fn(r.exempts[id-1])
	return nil
}

// Watches returns a copy of the watch list in evaluation order.
func (r *Router) Watches() []WatchRule {
	out := make([]WatchRule, len(r.watches))
	for i, w := range r.watches {
		out[i] = *w
		out[i].Sources = append([]Source(nil), w.Sources...)
	}
	return out
}

// Exempts returns a copy of the exempt list in evaluation order.
func (r *Router) Exempts() []ExemptRule {
	out := make([]ExemptRule, len(r.exempts))
	for i, e := range r.exempts {
		out[i] = *e
		out[i].Sources = append([]Source(nil), e.Sources...)
	}
	return out
}

// Dispatch routes one event. Exempt rules are checked first; then every
// enabled watch rule that passes the detach gates and matches claims its
// target, and the first rule to claim a target wins for this event.
//
// A quit is evaluated once with an empty source and then once per shared
// channel. Exempts veto a single pass, and a target notified by an earlier
// pass is not notified again.
func (r *Router) Dispatch(ev *Event, net Network) []Delivery {
	if net == nil {
		net = &NetworkState{}
	}
	identity := ev.Identity()
	line := ev.Render()
	handled := make(map[string]struct{})

	if ev.Kind == KindQuit {
		var out []Delivery
		out = r.dispatchQuitPass(identity, line, "", net, handled, out)
		for _, ch := range ev.Channels {
			out = r.dispatchQuitPass(identity, line, ch, net, handled, out)
		}
		return out
	}

	source := ev.Source()
	for _, e := range r.exempts {
		if r.matcher.Matches(&e.Criteria, identity, line, source, net) {
			return nil
		}
	}
	return r.fire(identity, line, source, net, handled, nil)
}

func (r *Router) dispatchQuitPass(identity, line, source string, net Network, handled map[string]struct{}, out []Delivery) []Delivery {
	for _, e := range r.exempts {
		// Exempts without sources are global and apply to every pass.
		src := source
		if len(e.Sources) == 0 {
			src = ""
		}
		if r.matcher.Matches(&e.Criteria, identity, line, src, net) {
			return out
		}
	}
	return r.fire(identity, line, source, net, handled, out)
}

func (r *Router) fire(identity, line, source string, net Network, handled map[string]struct{}, out []Delivery) []Delivery {
	attached := net.IsUserAttached()
	detached, chanFound := net.ChannelDetached(source)

	for _, w := range r.watches {
		if w.Disabled {
			continue
		}
		if attached && w.DetachedClientOnly {
			continue
		}
		if chanFound && !detached && w.DetachedChannelOnly {
			continue
		}
		if _, done := handled[w.Target]; done {
			continue
		}
		if !r.matcher.Matches(&w.Criteria, identity, line, source, net) {
			continue
		}
		out = append(out, Delivery{Target: w.Target, Line: line})
		handled[w.Target] = struct{}{}
	}
	return out
}
