package watch

import "strings"

// Network is the live context a dispatch runs against.
type Network interface {
	CurrentNick() string
	IsUserAttached() bool
	// ChannelDetached reports the detached state of a channel the user is in.
	// found is false when the user is not in that channel.
	ChannelDetached(name string) (detached, found bool)
	// ExpandString resolves %placeholders% in text patterns.
	ExpandString(s string) string
}

// NetworkState is a plain snapshot implementing Network. Channels maps a
// channel name to its detached flag; lookups ignore case.
type NetworkState struct {
	Name     string          `json:"name,omitempty"`
	Nick     string          `json:"nick,omitempty"`
	DefNick  string          `json:"def_nick,omitempty"`
	AltNick  string          `json:"alt_nick,omitempty"`
	Ident    string          `json:"ident,omitempty"`
	RealName string          `json:"real_name,omitempty"`
	User     string          `json:"user,omitempty"`
	Attached bool            `json:"attached,omitempty"`
	Channels map[string]bool `json:"channels,omitempty"`
}

var _ Network = (*NetworkState)(nil)

func (n *NetworkState) CurrentNick() string  { return n.Nick }
func (n *NetworkState) IsUserAttached() bool { return n.Attached }

func (n *NetworkState) ChannelDetached(name string) (bool, bool) {
	if name == "" {
		return false, false
	}
	if detached, ok := n.Channels[name]; ok {
		return detached, true
	}
	for ch, detached := range n.Channels {
		if strings.EqualFold(ch, name) {
			return detached, true
		}
	}
	return false, false
}

func (n *NetworkState) ExpandString(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	return strings.NewReplacer(
		"%nick%", n.Nick,
		"%defnick%", n.DefNick,
		"%altnick%", n.AltNick,
		"%ident%", n.Ident,
		"%realname%", n.RealName,
		"%network%", n.Name,
		"%user%", n.User,
	).Replace(s)
}
