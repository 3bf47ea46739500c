package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/ircguard/internal/watch"
	"github.com/lessucettes/ircguard/testutils"
)

type recordingCollector struct {
	mu         sync.Mutex
	dispatches map[string]int
	admissions map[string]int
	malformed  map[string]int
	active     int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		dispatches: map[string]int{},
		admissions: map[string]int{},
		malformed:  map[string]int{},
	}
}

func (c *recordingCollector) ReportDispatch(kind string, deliveries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatches[kind] += deliveries
}

func (c *recordingCollector) ReportAdmission(stage string, refused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if refused {
		stage += "/refused"
	}
	c.admissions[stage]++
}

func (c *recordingCollector) ReportLoad(namespace string, malformed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed[namespace] += malformed
}

func (c *recordingCollector) SetActiveBans(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = n
}

func TestManager_SessionPersistsMutations(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewMockStore()
	m := NewManager(st, nil, nil)

	s, err := m.Session(ctx, "alice")
	require.NoError(t, err)

	_, err = s.AddWatch(ctx, "evil", "", "*")
	require.NoError(t, err)
	_, err = s.AddExempt(ctx, "friend", "*")
	require.NoError(t, err)
	require.NoError(t, s.SetSources(ctx, 1, "#chat"))

	require.Len(t, st.Records("watch/alice"), 1)
	require.Len(t, st.Records("exempt/alice"), 1)

	// A fresh manager over the same store sees the same rules.
	s2, err := NewManager(st, nil, nil).Session(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, s.Watches(), s2.Watches())
	require.Equal(t, s.Exempts(), s2.Exempts())
	require.Equal(t, "#chat", s2.Watches()[0].SourcesString())
}

func TestManager_FailedMutationIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewMockStore()
	s, err := NewManager(st, nil, nil).Session(ctx, "alice")
	require.NoError(t, err)

	_, err = s.AddWatch(ctx, "a!b@c", "t1", "x")
	require.NoError(t, err)
	saves := st.Saves()

	_, err = s.AddWatch(ctx, "a!b@c", "t1", "x")
	require.ErrorIs(t, err, watch.ErrDuplicateRule)
	_, err = s.RemoveWatch(ctx, 5)
	require.ErrorIs(t, err, watch.ErrInvalidID)
	require.Equal(t, saves, st.Saves())
}

func TestManager_StoreErrorsSurface(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewMockStore()
	m := NewManager(st, nil, nil)

	boom := errors.New("disk on fire")
	st.SetError(boom)
	_, err := m.Session(ctx, "bob")
	require.ErrorIs(t, err, boom)

	st.ClearError()
	s, err := m.Session(ctx, "bob")
	require.NoError(t, err)

	st.SetError(boom)
	require.ErrorIs(t, s.Clear(ctx), boom)
}

func TestSession_FailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewMockStore()
	s, err := NewManager(st, nil, nil).Session(ctx, "alice")
	require.NoError(t, err)
	_, err = s.AddExempt(ctx, "*!*@trusted", "*")
	require.NoError(t, err)

	full := errors.New("disk full")
	st.SetError(full)
	_, err = s.AddWatch(ctx, "evil", "t", "*")
	require.ErrorIs(t, err, full)
	require.Empty(t, s.Watches())
	require.ErrorIs(t, s.ClearExempts(ctx), full)
	require.Len(t, s.Exempts(), 1)

	st.ClearError()
	_, err = s.AddWatch(ctx, "evil", "t", "*")
	require.NoError(t, err)
	require.Len(t, st.Records("watch/alice"), 1)
	require.Len(t, st.Records("exempt/alice"), 1)
}

func TestManager_LoadWarnsOnMalformed(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewMockStore()
	st.Put("watch/carol", "broken", "evil!*@*\n$evil\n*\nenabled\nfalse\nfalse\n")
	st.Put("exempt/carol", "also broken")
	collector := newRecordingCollector()

	s, err := NewManager(st, nil, collector).Session(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, s.Watches(), 1)
	require.Equal(t, 2, collector.malformed["watch"])
}

func TestManager_SessionLoadedOnce(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewMockStore()
	m := NewManager(st, nil, nil)

	var wg sync.WaitGroup
	sessions := make([]*Session, 20)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Session(ctx, "dave")
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		require.Same(t, sessions[0], s)
	}
	require.Equal(t, []string{"dave"}, m.Users())
	_, err := m.Session(ctx, "")
	require.Error(t, err)
}

func TestManager_HandleEvent(t *testing.T) {
	ctx := context.Background()
	collector := newRecordingCollector()
	m := NewManager(testutils.NewInMemoryStore(), nil, collector)
	s, err := m.Session(ctx, "alice")
	require.NoError(t, err)
	_, err = s.AddWatch(ctx, "evil", "", "*")
	require.NoError(t, err)

	t.Run("detached user gets the query target", func(t *testing.T) {
		sink := testutils.NewRecordingSink(4)
		n, err := m.HandleEvent(ctx, "alice", testutils.MakeChannelText("evil", "#chat", "hello"), testutils.Network("me", false), sink)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, []testutils.Delivered{{
			Target: "$evil",
			Line:   ":$evil!watch@znc.in PRIVMSG me :<evil:#chat> hello",
		}}, sink.Delivered())
	})

	t.Run("attached user gets a broadcast", func(t *testing.T) {
		sink := testutils.NewRecordingSink(4)
		_, err := m.HandleEvent(ctx, "alice", testutils.MakeChannelText("evil", "#chat", "hello"), testutils.Network("me", true), sink)
		require.NoError(t, err)
		require.Equal(t, BroadcastTarget, sink.Delivered()[0].Target)
	})

	t.Run("sink errors are returned", func(t *testing.T) {
		sink := testutils.NewRecordingSink(0)
		boom := errors.New("sink down")
		sink.FailWith(boom)
		n, err := m.HandleEvent(ctx, "alice", testutils.MakeChannelText("evil", "#chat", "hello"), nil, sink)
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, n)
	})

	t.Run("invalid events are rejected", func(t *testing.T) {
		_, err := m.HandleEvent(ctx, "alice", &watch.Event{Kind: "bogus", Nick: "x"}, nil, testutils.NewRecordingSink(0))
		require.Error(t, err)
	})

	t.Run("a panicking sink does not escape", func(t *testing.T) {
		n, err := m.HandleEvent(ctx, "alice", testutils.MakeChannelText("evil", "#chat", "hello"), nil, panicSink{})
		require.NoError(t, err)
		require.Zero(t, n)
	})

	require.Equal(t, 4, collector.dispatches["text"])
	require.NoError(t, m.Close())
}

func TestManager_HandleQuit(t *testing.T) {
	ctx := context.Background()
	collector := newRecordingCollector()
	m := NewManager(testutils.NewInMemoryStore(), nil, collector)
	s, err := m.Session(ctx, "alice")
	require.NoError(t, err)

	rules := []struct {
		target  string
		sources string
	}{
		{target: ""},
		{target: "$shared", sources: "#b"},
		{target: "$elsewhere", sources: "#c"},
	}
	for i, r := range rules {
		_, err := s.AddWatch(ctx, "evil", r.target, "*")
		require.NoError(t, err)
		if r.sources != "" {
			require.NoError(t, s.SetSources(ctx, i+1, r.sources))
		}
	}

	// The exempt vetoes the sourceless pass and the #a pass, so only rules
	// that accept #b fire.
	_, err = s.AddExempt(ctx, "evil", "*")
	require.NoError(t, err)
	require.NoError(t, s.SetExemptSources(ctx, 1, "#a"))

	net := testutils.Network("me", false)
	net.Channels["#a"] = false
	net.Channels["#b"] = false

	sink := testutils.NewRecordingSink(4)
	n, err := m.HandleEvent(ctx, "alice", testutils.MakeQuit("evil", "bye", "#a", "#b"), net, sink)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got := sink.Delivered()
	require.Len(t, got, 2)
	require.Equal(t, "$evil", got[0].Target)
	require.Equal(t, ":$evil!watch@znc.in PRIVMSG me :* Quits: evil (ident@host.example) (bye)", got[0].Line)
	require.Equal(t, "$shared", got[1].Target)
	require.Equal(t, 2, collector.dispatches["quit"])
}

type panicSink struct{}

func (panicSink) Deliver(context.Context, string, string) error { panic("boom") }

func TestSession_DumpRestore(t *testing.T) {
	ctx := context.Background()
	st := testutils.NewInMemoryStore()
	m := NewManager(st, nil, nil)

	src, err := m.Session(ctx, "alice")
	require.NoError(t, err)
	_, err = src.AddWatch(ctx, "evil", "", "*")
	require.NoError(t, err)
	require.NoError(t, src.SetDetachedChannelOnly(ctx, watch.All, true))
	data, err := src.Dump()
	require.NoError(t, err)

	dst, err := m.Session(ctx, "bob")
	require.NoError(t, err)
	skipped, err := dst.Restore(ctx, data)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Equal(t, src.Watches(), dst.Watches())
	require.Len(t, st.Records("watch/bob"), 1)

	_, err = dst.Restore(ctx, []byte("watches: [oops"))
	require.Error(t, err)
	require.Len(t, dst.Watches(), 1)
}
