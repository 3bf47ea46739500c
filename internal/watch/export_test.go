package watch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuleSet_DumpRestore(t *testing.T) {
	src := NewRouter(nil)
	_, err := src.AddWatch("evil", "", "*")
	require.NoError(t, err)
	_, err = src.AddWatch("*!*@*.example", "#ops", "*%nick%*")
	require.NoError(t, err)
	require.NoError(t, src.SetSources(2, "#a !#b"))
	require.NoError(t, src.SetDetachedClientOnly(2, true))
	require.NoError(t, src.SetEnabled(1, false))
	_, err = src.AddExempt("bot", "*")
	require.NoError(t, err)

	data, err := MarshalRuleSet(src.Export())
	require.NoError(t, err)
	require.Contains(t, string(data), "evil!*@*")

	set, err := UnmarshalRuleSet(data)
	require.NoError(t, err)

	dst := NewRouter(nil)
	_, err = dst.AddWatch("stale", "", "*")
	require.NoError(t, err)

	require.Zero(t, dst.Import(set))
	require.Equal(t, src.Watches(), dst.Watches())
	require.Equal(t, src.Exempts(), dst.Exempts())
}

func TestRouter_Import_SkipsInvalidAndDuplicates(t *testing.T) {
	set := RuleSet{
		Watches: []WatchRule{
			{Criteria: Criteria{HostMask: "a"}, Target: "t"},
			{Criteria: Criteria{HostMask: "A!*@*", Pattern: "*"}, Target: "T"},
			{Criteria: Criteria{HostMask: ""}, Target: "t"},
		},
		Exempts: []ExemptRule{{Criteria: Criteria{HostMask: "b"}}},
	}

	r := NewRouter(nil)
	require.Equal(t, 2, r.Import(set))

	watches := r.Watches()
	require.Len(t, watches, 1)
	require.Equal(t, "a!*@*", watches[0].HostMask)
	require.Equal(t, "*", watches[0].Pattern)
	require.Len(t, r.Exempts(), 1)
}

func TestUnmarshalRuleSet_Invalid(t *testing.T) {
	_, err := UnmarshalRuleSet([]byte("watches: [unterminated"))
	require.Error(t, err)
}
