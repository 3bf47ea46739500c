package watch

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RuleSet is the portable form of a router's rules used by dump and restore.
type RuleSet struct {
	Watches []WatchRule  `yaml:"watches"`
	Exempts []ExemptRule `yaml:"exempts,omitempty"`
}

// Export snapshots both lists in evaluation order.
func (r *Router) Export() RuleSet {
	return RuleSet{Watches: r.Watches(), Exempts: r.Exempts()}
}

// Import replaces both lists with the given set. Hostmasks are normalised and
// duplicates after the first occurrence are dropped. It returns the number of
// rules that were skipped.
func (r *Router) Import(set RuleSet) (skipped int) {
	watches := make([]*WatchRule, 0, len(set.Watches))
	for _, in := range set.Watches {
		rule, err := NewWatchRule(in.HostMask, in.Target, in.Pattern)
		if err != nil || containsWatch(watches, &rule) {
			skipped++
			continue
		}
		rule.Disabled = in.Disabled
		rule.DetachedClientOnly = in.DetachedClientOnly
		rule.DetachedChannelOnly = in.DetachedChannelOnly
		rule.Sources = append([]Source(nil), in.Sources...)
		watches = append(watches, &rule)
	}

	exempts := make([]*ExemptRule, 0, len(set.Exempts))
	for _, in := range set.Exempts {
		rule, err := NewExemptRule(in.HostMask, in.Pattern)
		if err != nil || containsExempt(exempts, &rule) {
			skipped++
			continue
		}
		rule.Disabled = in.Disabled
		rule.Sources = append([]Source(nil), in.Sources...)
		exempts = append(exempts, &rule)
	}

	r.watches = watches
	r.exempts = exempts
	return skipped
}

// MarshalRuleSet renders a rule set as YAML.
func MarshalRuleSet(set RuleSet) ([]byte, error) {
	out, err := yaml.Marshal(&set)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule set: %w", err)
	}
	return out, nil
}

// UnmarshalRuleSet parses a YAML rule set.
func UnmarshalRuleSet(data []byte) (RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rule set: %w", err)
	}
	return set, nil
}

func containsWatch(list []*WatchRule, rule *WatchRule) bool {
	for _, w := range list {
		if w.Equal(rule) {
			return true
		}
	}
	return false
}

func containsExempt(list []*ExemptRule, rule *ExemptRule) bool {
	for _, e := range list {
		if e.Equal(rule) {
			return true
		}
	}
	return false
}
