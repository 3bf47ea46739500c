package watch

// Matcher evaluates a single rule against a single event.
type Matcher struct {
	wildcard *Wildcard
}

func NewMatcher(w *Wildcard) *Matcher {
	if w == nil {
		w = NewWildcard(0, 0)
	}
	return &Matcher{wildcard: w}
}

// Matches applies, in order: the disabled flag, the source filter, the
// hostmask and the expanded text pattern. A matching negated source fails the
// rule outright. An empty source or an empty filter passes the source step.
func (m *Matcher) Matches(c *Criteria, identity, text, source string, net Network) bool {
	if c.Disabled {
		return false
	}

	if source != "" && len(c.Sources) > 0 {
		goodSource := false
		for _, s := range c.Sources {
			if !m.wildcard.Match(source, s.Pattern) {
				continue
			}
			if s.Negated {
				return false
			}
			goodSource = true
		}
		if !goodSource {
			return false
		}
	}

	if !m.wildcard.Match(identity, c.HostMask) {
		return false
	}

	pattern := c.Pattern
	if net != nil {
		pattern = net.ExpandString(pattern)
	}
	return m.wildcard.Match(text, pattern)
}
