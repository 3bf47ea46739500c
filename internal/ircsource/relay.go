package ircsource

import (
	"context"
	"log/slog"

	"github.com/ergochat/irc-go/ircmsg"
	"golang.org/x/time/rate"
)

// Sender is the part of the connection a RelaySink writes to.
type Sender interface {
	Privmsg(target, message string) error
}

// RelaySink forwards delivered lines to one IRC target as PRIVMSG, paced by a
// token bucket so a burst of matches cannot flood the connection.
type RelaySink struct {
	sender  Sender
	to      string
	limiter *rate.Limiter
}

func NewRelaySink(sender Sender, to string, perSecond float64, burst int) *RelaySink {
	return &RelaySink{
		sender:  sender,
		to:      to,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Deliver relays line. Wire lines are reduced to "[<source>] <text>".
func (s *RelaySink) Deliver(ctx context.Context, target, line string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.sender.Privmsg(s.to, relayText(target, line))
}

func relayText(target, line string) string {
	msg, err := ircmsg.ParseLine(line)
	if err != nil || msg.Command != "PRIVMSG" || len(msg.Params) < 2 {
		slog.Debug("Relaying unparsed line", "target", target, "error", err)
		return "[" + target + "] " + line
	}
	if nick := msg.Nick(); nick != "" {
		target = nick
	}
	return "[" + target + "] " + msg.Params[len(msg.Params)-1]
}
