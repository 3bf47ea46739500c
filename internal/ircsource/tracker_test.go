package ircsource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/require"

	"github.com/lessucettes/ircguard/internal/watch"
)

func observe(t *testing.T, tr *Tracker, line string) *watch.Event {
	t.Helper()
	msg, err := ircmsg.ParseLine(line)
	require.NoError(t, err)
	return tr.Observe(msg, "me")
}

func TestTracker_Normalize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *watch.Event
	}{
		{
			name: "channel text",
			line: ":evil!e@bad.host PRIVMSG #chat :hello there",
			want: &watch.Event{Kind: watch.KindText, Nick: "evil", Ident: "e", Host: "bad.host", Channel: "#chat", Text: "hello there"},
		},
		{
			name: "private text",
			line: ":evil!e@bad.host PRIVMSG me :psst",
			want: &watch.Event{Kind: watch.KindText, Nick: "evil", Ident: "e", Host: "bad.host", Text: "psst"},
		},
		{
			name: "action",
			line: ":evil!e@bad.host PRIVMSG #chat :\x01ACTION waves\x01",
			want: &watch.Event{Kind: watch.KindAction, Nick: "evil", Ident: "e", Host: "bad.host", Channel: "#chat", Text: "waves"},
		},
		{
			name: "ctcp",
			line: ":evil!e@bad.host PRIVMSG me :\x01VERSION\x01",
			want: &watch.Event{Kind: watch.KindCTCP, Nick: "evil", Ident: "e", Host: "bad.host", Text: "VERSION"},
		},
		{
			name: "ctcp reply",
			line: ":evil!e@bad.host NOTICE me :\x01VERSION x 1.0\x01",
			want: &watch.Event{Kind: watch.KindCTCPReply, Nick: "evil", Ident: "e", Host: "bad.host", Text: "VERSION x 1.0"},
		},
		{
			name: "channel notice",
			line: ":evil!e@bad.host NOTICE #chat :heads up",
			want: &watch.Event{Kind: watch.KindNotice, Nick: "evil", Ident: "e", Host: "bad.host", Channel: "#chat", Text: "heads up"},
		},
		{
			name: "mode",
			line: ":op!o@h MODE #chat +o evil",
			want: &watch.Event{Kind: watch.KindMode, Nick: "op", Ident: "o", Host: "h", Channel: "#chat", Text: "+o", Target: "evil"},
		},
		{
			name: "user mode ignored",
			line: ":me!m@h MODE me +i",
		},
		{
			name: "own message ignored",
			line: ":me!m@h PRIVMSG #chat :hi",
		},
		{
			name: "server numeric ignored",
			line: ":irc.example 372 me :motd",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, observe(t, NewTracker(), tt.line))
		})
	}
}

func TestTracker_QuitFanOut(t *testing.T) {
	tr := NewTracker()
	require.Nil(t, observe(t, tr, ":me!m@h JOIN #a"))
	require.Nil(t, observe(t, tr, ":me!m@h JOIN #b"))
	require.Nil(t, observe(t, tr, ":me!m@h JOIN #c"))
	require.Nil(t, observe(t, tr, ":irc.example 353 me = #a :@me +evil other"))

	join := observe(t, tr, ":evil!e@h JOIN #C")
	require.Equal(t, watch.KindJoin, join.Kind)
	require.Equal(t, "#c", join.Channel)

	nick := observe(t, tr, ":evil!e@h NICK :evil2")
	require.Equal(t, watch.KindNick, nick.Kind)
	require.Equal(t, "evil2", nick.Target)

	quit := observe(t, tr, ":evil2!e@h QUIT :bye")
	require.Equal(t, watch.KindQuit, quit.Kind)
	require.Equal(t, "bye", quit.Text)
	require.Equal(t, []string{"#a", "#c"}, quit.Channels)

	again := observe(t, tr, ":evil2!e@h QUIT :bye")
	require.Empty(t, again.Channels)
}

func TestTracker_PartAndKick(t *testing.T) {
	tr := NewTracker()
	observe(t, tr, ":me!m@h JOIN #a")
	observe(t, tr, ":me!m@h JOIN #b")
	observe(t, tr, ":evil!e@h JOIN #a")
	observe(t, tr, ":evil!e@h JOIN #b")

	part := observe(t, tr, ":evil!e@h PART #a :later")
	require.Equal(t, &watch.Event{Kind: watch.KindPart, Nick: "evil", Ident: "e", Host: "h", Channel: "#a", Text: "later"}, part)

	kick := observe(t, tr, ":op!o@h KICK #b evil :spam")
	require.Equal(t, watch.KindKick, kick.Kind)
	require.Equal(t, "evil", kick.Target)
	require.Equal(t, "spam", kick.Text)

	require.Empty(t, observe(t, tr, ":evil!e@h QUIT :gone").Channels)

	kicked := observe(t, tr, ":op!o@h KICK #a me :out")
	require.Equal(t, "me", kicked.Target)
	require.Equal(t, []string{"#b"}, tr.Channels())

	tr.Reset()
	require.Empty(t, tr.Channels())
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Privmsg(target, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, target+" "+message)
	return nil
}

func TestRelaySink(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	sink := NewRelaySink(sender, "#ops", 1000, 10)

	require.NoError(t, sink.Deliver(ctx, "$evil", ":$evil!watch@znc.in PRIVMSG me :<evil:#chat> hello"))
	require.NoError(t, sink.Deliver(ctx, "$raw", "not an irc line"))
	require.Equal(t, []string{"#ops [$evil] <evil:#chat> hello", "#ops [$raw] not an irc line"}, sender.sent)

	sender.err = errors.New("disconnected")
	require.Error(t, sink.Deliver(ctx, "$evil", ":$evil!watch@znc.in PRIVMSG me :x"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	slow := NewRelaySink(&recordingSender{}, "#ops", 0.001, 1)
	require.NoError(t, slow.Deliver(ctx, "$a", "first"))
	require.Error(t, slow.Deliver(cancelled, "$a", "second"))
}
