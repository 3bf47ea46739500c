package watch

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tags a normalised IRC event.
type Kind string

const (
	KindText      Kind = "text"
	KindNotice    Kind = "notice"
	KindAction    Kind = "action"
	KindCTCP      Kind = "ctcp"
	KindCTCPReply Kind = "ctcp_reply"
	KindJoin      Kind = "join"
	KindPart      Kind = "part"
	KindKick      Kind = "kick"
	KindNick      Kind = "nick"
	KindQuit      Kind = "quit"
	KindMode      Kind = "mode"
)

// Event is one normalised IRC event as delivered by an event source.
//
// Channel is empty for private messages, CTCPs and nick changes. Channels
// lists the channels shared with a quitting user. Text carries the message,
// part/kick/quit reason or the mode string. Target is the kicked nick, the new
// nick or the mode arguments.
type Event struct {
	Kind     Kind     `json:"kind"`
	Nick     string   `json:"nick"`
	Ident    string   `json:"ident,omitempty"`
	Host     string   `json:"host,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Text     string   `json:"text,omitempty"`
	Target   string   `json:"target,omitempty"`
}

// Validate checks the fields the renderer depends on.
func (e *Event) Validate() error {
	if e.Nick == "" {
		return errors.New("event has no nick")
	}
	switch e.Kind {
	case KindText, KindNotice, KindAction, KindCTCP, KindCTCPReply, KindQuit:
	case KindJoin, KindPart, KindMode:
		if e.Channel == "" {
			return fmt.Errorf("%s event has no channel", e.Kind)
		}
	case KindKick:
		if e.Channel == "" || e.Target == "" {
			return errors.New("kick event needs channel and target")
		}
	case KindNick:
		if e.Target == "" {
			return errors.New("nick event has no new nick")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Identity returns the sender as nick!ident@host.
func (e *Event) Identity() string {
	return e.Nick + "!" + e.Ident + "@" + e.Host
}

// Source returns the source tag used for source filters: the channel, "priv"
// for private contexts or empty for channel-less events.
func (e *Event) Source() string {
	switch e.Kind {
	case KindNick, KindQuit:
		return ""
	case KindCTCPReply:
		return PrivateSource
	}
	if e.Channel == "" {
		return PrivateSource
	}
	return e.Channel
}

// Render produces the display line that is both matched against text
// patterns and forwarded to targets.
func (e *Event) Render() string {
	switch e.Kind {
	case KindText:
		if e.Channel == "" {
			return "<" + e.Nick + "> " + e.Text
		}
		return "<" + e.Nick + ":" + e.Channel + "> " + e.Text
	case KindNotice:
		if e.Channel == "" {
			return "-" + e.Nick + "- " + e.Text
		}
		return "-" + e.Nick + ":" + e.Channel + "- " + e.Text
	case KindAction:
		if e.Channel == "" {
			return "* " + e.Nick + " " + e.Text
		}
		return "* " + e.Nick + ":" + e.Channel + " " + e.Text
	case KindCTCP:
		if e.Channel == "" {
			return "* CTCP: " + e.Nick + " [" + e.Text + "]"
		}
		return "* CTCP: " + e.Nick + " [" + e.Text + "] to [" + e.Channel + "]"
	case KindCTCPReply:
		return "* CTCP: " + e.Nick + " reply [" + e.Text + "]"
	case KindJoin:
		return "* " + e.Nick + " (" + e.Ident + "@" + e.Host + ") joins " + e.Channel
	case KindPart:
		return "* " + e.Nick + " (" + e.Ident + "@" + e.Host + ") parts " + e.Channel + "(" + e.Text + ")"
	case KindKick:
		return "* " + e.Nick + " kicked " + e.Target + " from " + e.Channel + " because [" + e.Text + "]"
	case KindNick:
		return "* " + e.Nick + " is now known as " + e.Target
	case KindQuit:
		line := "* Quits: " + e.Nick + " (" + e.Ident + "@" + e.Host + ") (" + e.Text + ")"
		if len(e.Channels) > 0 {
			line += " (" + strings.Join(e.Channels, ", ") + ")"
		}
		return line
	case KindMode:
		return "* " + e.Nick + " sets mode: " + e.Text + " " + e.Target + " on " + e.Channel
	}
	return e.Text
}
