// Package ircsource turns a live IRC connection into watch events and relays
// deliveries back over the same connection.
package ircsource

import (
	"strings"
	"sync"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/lessucettes/ircguard/internal/watch"
)

// Tracker follows channel membership so quits can be attributed to the
// channels shared with the quitting user. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	channels map[string]*channelState
	order    []string
}

type channelState struct {
	name    string
	members map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{channels: make(map[string]*channelState)}
}

func fold(s string) string { return strings.ToLower(s) }

func isChannel(s string) bool {
	return s != "" && strings.ContainsRune("#&+!", rune(s[0]))
}

// Observe updates membership from msg and returns the event it represents, or
// nil when msg carries nothing to dispatch. self is our current nick; our own
// actions only update state.
func (t *Tracker) Observe(msg ircmsg.Message, self string) *watch.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.Command == "353" {
		t.names(msg.Params)
		return nil
	}
	if msg.Source == "" {
		return nil
	}
	nuh, err := msg.NUH()
	if err != nil || nuh.Name == "" {
		return nil
	}
	fromSelf := strings.EqualFold(nuh.Name, self)

	ev := &watch.Event{Nick: nuh.Name, Ident: nuh.User, Host: nuh.Host}
	switch {
	case msg.Command == "PRIVMSG" || msg.Command == "NOTICE" || strings.HasPrefix(msg.Command, "CTCP"):
		if len(msg.Params) < 2 {
			return nil
		}
		if isChannel(msg.Params[0]) {
			ev.Channel = msg.Params[0]
		}
		classify(ev, msg.Command, msg.Params[1])

	case msg.Command == "JOIN":
		if len(msg.Params) < 1 {
			return nil
		}
		ch := t.join(msg.Params[0])
		ch.members[fold(nuh.Name)] = struct{}{}
		ev.Kind, ev.Channel = watch.KindJoin, ch.name

	case msg.Command == "PART":
		if len(msg.Params) < 1 {
			return nil
		}
		ev.Kind, ev.Channel = watch.KindPart, msg.Params[0]
		if len(msg.Params) > 1 {
			ev.Text = msg.Params[1]
		}
		t.leave(msg.Params[0], nuh.Name, fromSelf)

	case msg.Command == "KICK":
		if len(msg.Params) < 2 {
			return nil
		}
		ev.Kind, ev.Channel, ev.Target = watch.KindKick, msg.Params[0], msg.Params[1]
		if len(msg.Params) > 2 {
			ev.Text = msg.Params[2]
		}
		t.leave(msg.Params[0], msg.Params[1], strings.EqualFold(msg.Params[1], self))

	case msg.Command == "NICK":
		if len(msg.Params) < 1 {
			return nil
		}
		ev.Kind, ev.Target = watch.KindNick, msg.Params[0]
		t.rename(nuh.Name, msg.Params[0])

	case msg.Command == "QUIT":
		ev.Kind = watch.KindQuit
		if len(msg.Params) > 0 {
			ev.Text = msg.Params[0]
		}
		ev.Channels = t.quit(nuh.Name)

	case msg.Command == "MODE":
		if len(msg.Params) < 2 || !isChannel(msg.Params[0]) {
			return nil
		}
		ev.Kind, ev.Channel, ev.Text = watch.KindMode, msg.Params[0], msg.Params[1]
		ev.Target = strings.Join(msg.Params[2:], " ")

	default:
		return nil
	}

	if fromSelf || ev.Kind == "" {
		return nil
	}
	return ev
}

// classify sets kind and text for PRIVMSG, NOTICE and CTCP commands. CTCP
// payloads may arrive raw or already split by the connection library.
func classify(ev *watch.Event, command, text string) {
	raw := strings.HasPrefix(text, "\x01")
	payload := strings.Trim(text, "\x01")
	switch {
	case command == "NOTICE" && raw:
		ev.Kind, ev.Text = watch.KindCTCPReply, payload
	case command == "NOTICE":
		ev.Kind, ev.Text = watch.KindNotice, text
	case command == "CTCP_ACTION":
		ev.Kind, ev.Text = watch.KindAction, strings.TrimPrefix(payload, "ACTION ")
	case strings.HasPrefix(command, "CTCP"):
		ev.Kind, ev.Text = watch.KindCTCP, payload
		if ev.Text == "" {
			ev.Text = strings.TrimPrefix(strings.TrimPrefix(command, "CTCP"), "_")
		}
	case raw && (payload == "ACTION" || strings.HasPrefix(payload, "ACTION ")):
		ev.Kind, ev.Text = watch.KindAction, strings.TrimPrefix(strings.TrimPrefix(payload, "ACTION"), " ")
	case raw:
		ev.Kind, ev.Text = watch.KindCTCP, payload
	default:
		ev.Kind, ev.Text = watch.KindText, text
	}
}

func (t *Tracker) join(name string) *channelState {
	key := fold(name)
	ch, ok := t.channels[key]
	if !ok {
		ch = &channelState{name: name, members: make(map[string]struct{})}
		t.channels[key] = ch
		t.order = append(t.order, key)
	}
	return ch
}

func (t *Tracker) leave(channel, nick string, self bool) {
	key := fold(channel)
	if self {
		delete(t.channels, key)
		for i, k := range t.order {
			if k == key {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		return
	}
	if ch, ok := t.channels[key]; ok {
		delete(ch.members, fold(nick))
	}
}

func (t *Tracker) rename(from, to string) {
	old, nu := fold(from), fold(to)
	for _, ch := range t.channels {
		if _, ok := ch.members[old]; ok {
			delete(ch.members, old)
			ch.members[nu] = struct{}{}
		}
	}
}

func (t *Tracker) quit(nick string) []string {
	key := fold(nick)
	var shared []string
	for _, k := range t.order {
		ch := t.channels[k]
		if _, ok := ch.members[key]; ok {
			shared = append(shared, ch.name)
			delete(ch.members, key)
		}
	}
	return shared
}

// names handles RPL_NAMREPLY: <me> <type> <channel> :<names>.
func (t *Tracker) names(params []string) {
	if len(params) < 4 {
		return
	}
	ch := t.join(params[2])
	for _, n := range strings.Fields(params[3]) {
		n = strings.TrimLeft(n, "~&@%+")
		if i := strings.IndexByte(n, '!'); i >= 0 {
			n = n[:i]
		}
		if n != "" {
			ch.members[fold(n)] = struct{}{}
		}
	}
}

// Channels returns the joined channels in join order.
func (t *Tracker) Channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.channels[k].name)
	}
	return out
}

// Reset forgets all membership, as after a reconnect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = make(map[string]*channelState)
	t.order = nil
}
