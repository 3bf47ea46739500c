// Package watch implements the activity router: watch and exempt rules, the
// rule matcher and per-event dispatch to targets.
package watch

import (
	"errors"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

var (
	ErrDuplicateRule   = errors.New("rule already exists")
	ErrInvalidID       = errors.New("invalid id")
	ErrMalformedRecord = errors.New("malformed record")
	ErrEmptyHostMask   = errors.New("hostmask must not be empty")
	ErrLineBreak       = errors.New("rule fields must not contain line breaks")
)

// PrivateSource is the source tag used for private messages and CTCPs.
const PrivateSource = "priv"

// Source is one entry of a rule's source filter. A negated source vetoes the
// rule when it matches.
type Source struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Negated bool   `yaml:"negated,omitempty" json:"negated,omitempty"`
}

// ParseSources splits a space separated source list such as
// "#chan priv #foo* !#bar". A leading '!' negates the entry unless it is the
// whole token.
func ParseSources(list string) []Source {
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return nil
	}
	sources := make([]Source, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 && f[0] == '!' {
			sources = append(sources, Source{Pattern: f[1:], Negated: true})
			continue
		}
		sources = append(sources, Source{Pattern: f})
	}
	return sources
}

// FormatSources is the inverse of ParseSources.
func FormatSources(sources []Source) string {
	var b strings.Builder
	for i, s := range sources {
		if i > 0 {
			b.WriteByte(' ')
		}
		if s.Negated {
			b.WriteByte('!')
		}
		b.WriteString(s.Pattern)
	}
	return b.String()
}

// Criteria is the matchable part shared by watch and exempt rules.
type Criteria struct {
	HostMask string   `yaml:"hostmask" json:"hostmask"`
	Pattern  string   `yaml:"pattern" json:"pattern"`
	Sources  []Source `yaml:"sources,omitempty" json:"sources,omitempty"`
	Disabled bool     `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// SourcesString renders the source filter the way it is entered.
func (c *Criteria) SourcesString() string { return FormatSources(c.Sources) }

// SetSources replaces the source filter from a source list.
func (c *Criteria) SetSources(list string) { c.Sources = ParseSources(list) }

// WatchRule forwards matching events to Target.
type WatchRule struct {
	Criteria            `yaml:",inline"`
	Target              string `yaml:"target" json:"target"`
	DetachedClientOnly  bool   `yaml:"detached_client_only,omitempty" json:"detached_client_only,omitempty"`
	DetachedChannelOnly bool   `yaml:"detached_channel_only,omitempty" json:"detached_channel_only,omitempty"`
}

// ExemptRule vetoes watch processing for matching events.
type ExemptRule struct {
	Criteria `yaml:",inline"`
}

// NewWatchRule builds a rule with a normalised hostmask. An empty target
// defaults to "$<nick>" and an empty pattern to "*".
func NewWatchRule(hostmask, target, pattern string) (WatchRule, error) {
	if hasLineBreak(hostmask, target, pattern) {
		return WatchRule{}, ErrLineBreak
	}
	mask, nick, err := NormalizeHostMask(hostmask)
	if err != nil {
		return WatchRule{}, err
	}
	if target == "" {
		target = "$" + nick
	}
	return WatchRule{
		Criteria: Criteria{HostMask: mask, Pattern: defaultPattern(pattern)},
		Target:   target,
	}, nil
}

// NewExemptRule builds an exempt rule with a normalised hostmask.
func NewExemptRule(hostmask, pattern string) (ExemptRule, error) {
	if hasLineBreak(hostmask, pattern) {
		return ExemptRule{}, ErrLineBreak
	}
	mask, _, err := NormalizeHostMask(hostmask)
	if err != nil {
		return ExemptRule{}, err
	}
	return ExemptRule{Criteria: Criteria{HostMask: mask, Pattern: defaultPattern(pattern)}}, nil
}

// Equal reports whether both rules share hostmask, target and pattern.
func (r *WatchRule) Equal(o *WatchRule) bool {
	return strings.EqualFold(r.HostMask, o.HostMask) &&
		strings.EqualFold(r.Target, o.Target) &&
		strings.EqualFold(r.Pattern, o.Pattern)
}

// Equal reports whether both rules share hostmask and pattern.
func (r *ExemptRule) Equal(o *ExemptRule) bool {
	return strings.EqualFold(r.HostMask, o.HostMask) &&
		strings.EqualFold(r.Pattern, o.Pattern)
}

// NormalizeHostMask expands a partial mask into nick!ident@host, filling the
// missing segments with '*'. It also returns the parsed nick segment, which is
// empty when the mask carries none.
func NormalizeHostMask(mask string) (normalized, nick string, err error) {
	mask = strings.TrimSpace(strings.TrimPrefix(mask, ":"))
	if mask == "" {
		return "", "", ErrEmptyHostMask
	}
	nuh, err := ircmsg.ParseNUH(mask)
	if err != nil {
		return "", "", ErrEmptyHostMask
	}
	return orStar(nuh.Name) + "!" + orStar(nuh.User) + "@" + orStar(nuh.Host), nuh.Name, nil
}

// hasLineBreak reports whether any field would split a persisted record.
func hasLineBreak(fields ...string) bool {
	for _, f := range fields {
		if strings.ContainsAny(f, "\r\n") {
			return true
		}
	}
	return false
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func defaultPattern(p string) string {
	if p == "" {
		return "*"
	}
	return p
}
