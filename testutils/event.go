// testutils/event.go
package testutils

import (
	"github.com/lessucettes/ircguard/internal/watch"
)

// Identity parts for tests that don't need a specific sender.
const (
	TestIdent = "ident"
	TestHost  = "host.example"
)

// MakeEvent is a shared helper to create a watch.Event for tests.
func MakeEvent(kind watch.Kind, nick, channel, text string) *watch.Event {
	return &watch.Event{
		Kind:    kind,
		Nick:    nick,
		Ident:   TestIdent,
		Host:    TestHost,
		Channel: channel,
		Text:    text,
	}
}

// MakeChannelText creates a channel message event.
func MakeChannelText(nick, channel, text string) *watch.Event {
	return MakeEvent(watch.KindText, nick, channel, text)
}

// MakeQuit creates a quit event for a user sharing the given channels.
func MakeQuit(nick, reason string, channels ...string) *watch.Event {
	ev := MakeEvent(watch.KindQuit, nick, "", reason)
	ev.Channels = channels
	return ev
}

// Network returns a network snapshot with the given current nick.
func Network(nick string, attached bool) *watch.NetworkState {
	return &watch.NetworkState{Name: "testnet", Nick: nick, Attached: attached, Channels: map[string]bool{}}
}
