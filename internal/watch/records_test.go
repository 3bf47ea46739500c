package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatchRecord_RoundTrip(t *testing.T) {
	rule, err := NewWatchRule("evil", "", "*spam*")
	require.NoError(t, err)
	rule.Disabled = true
	rule.DetachedChannelOnly = true
	rule.SetSources("#a !#b")

	rec := EncodeWatch(&rule)
	require.Equal(t, "evil!*@*\n$evil\n*spam*\ndisabled\nfalse\ntrue\n#a !#b", rec)

	got, err := DecodeWatch(rec)
	require.NoError(t, err)
	require.Equal(t, rule, got)
}

func TestDecodeWatch_LegacyForm(t *testing.T) {
	got, err := DecodeWatch("nick!*@*\n$nick\n*\nenabled\n#chan ")
	require.NoError(t, err)
	require.False(t, got.Disabled)
	require.False(t, got.DetachedClientOnly)
	require.Equal(t, []Source{{Pattern: "#chan"}}, got.Sources)
}

func TestDecodeExempt(t *testing.T) {
	rule, err := NewExemptRule("*!*@trusted", "")
	require.NoError(t, err)
	rule.SetSources("priv")

	got, err := DecodeExempt(EncodeExempt(&rule))
	require.NoError(t, err)
	require.Equal(t, rule, got)

	_, err = DecodeExempt("a\nb\nc")
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestRouter_Load_SkipsMalformed(t *testing.T) {
	src := NewRouter(nil)
	_, err := src.AddWatch("one", "t1", "*")
	require.NoError(t, err)
	_, err = src.AddWatch("two", "t2", "*")
	require.NoError(t, err)
	_, err = src.AddExempt("bot", "*")
	require.NoError(t, err)

	watches := src.WatchRecords()
	watches = append([]string{"not a record"}, watches...)
	watches = append(watches, "\nt\n*\nenabled\n")
	exempts := append(src.ExemptRecords(), "x\ny")

	dst := NewRouter(nil)
	_, err = dst.AddWatch("stale", "", "*")
	require.NoError(t, err)

	malformed := dst.Load(watches, exempts)
	require.Equal(t, 3, malformed)
	require.Equal(t, src.Watches(), dst.Watches())
	require.Equal(t, src.Exempts(), dst.Exempts())
}

func TestRouter_RejectsLineBreaksInRuleFields(t *testing.T) {
	tests := []struct {
		name                      string
		hostmask, target, pattern string
	}{
		{name: "pattern", hostmask: "evil", target: "t", pattern: "*line1\nline2*"},
		{name: "target", hostmask: "evil", target: "t\r", pattern: "*"},
		{name: "hostmask", hostmask: "ev\nil", target: "t", pattern: "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(nil)
			_, err := r.AddWatch(tt.hostmask, tt.target, tt.pattern)
			require.ErrorIs(t, err, ErrLineBreak)
			require.Empty(t, r.Watches())
		})
	}

	r := NewRouter(nil)
	_, err := r.AddExempt("evil", "a\nb")
	require.ErrorIs(t, err, ErrLineBreak)

	skipped := r.Import(RuleSet{
		Watches: []WatchRule{
			{Criteria: Criteria{HostMask: "evil", Pattern: "*x\ny*"}, Target: "t"},
			{Criteria: Criteria{HostMask: "good", Pattern: "*"}, Target: "t"},
		},
		Exempts: []ExemptRule{{Criteria: Criteria{HostMask: "a\nb", Pattern: "*"}}},
	})
	require.Equal(t, 2, skipped)

	dst := NewRouter(nil)
	require.Zero(t, dst.Load(r.WatchRecords(), r.ExemptRecords()))
	require.Equal(t, r.Watches(), dst.Watches())
}
