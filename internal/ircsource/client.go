package ircsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"

	"github.com/lessucettes/ircguard/internal/config"
	"github.com/lessucettes/ircguard/internal/watch"
)

// EventHandler receives every normalised event together with a snapshot of
// the connection state.
type EventHandler func(ctx context.Context, ev *watch.Event, net watch.Network)

var watchedCommands = []string{
	"PRIVMSG", "NOTICE", "CTCP", "CTCP_ACTION", "CTCP_VERSION", "CTCP_PING", "CTCP_TIME",
	"CTCP_USERINFO", "CTCP_CLIENTINFO", "JOIN", "PART", "KICK", "NICK", "QUIT", "MODE", "353",
}

// Client reads events from one IRC connection.
type Client struct {
	cfg     *config.IRCConfig
	conn    *ircevent.Connection
	tracker *Tracker
	handle  EventHandler
	ctx     atomic.Pointer[context.Context]
}

func NewClient(cfg *config.IRCConfig, handle EventHandler) *Client {
	c := &Client{
		cfg:     cfg,
		tracker: NewTracker(),
		handle:  handle,
	}
	c.conn = &ircevent.Connection{
		Server:      fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		Nick:        cfg.Nick,
		User:        cfg.Username,
		RealName:    cfg.RealName,
		Password:    cfg.Password,
		QuitMessage: "Shutting down",
		UseTLS:      cfg.TLS,
		TLSConfig:   &tls.Config{ServerName: cfg.Server},
		Log:         slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
	}
	c.registerHandlers()
	return c
}

func (c *Client) registerHandlers() {
	c.conn.AddCallback("001", c.onWelcome)
	for _, cmd := range watchedCommands {
		c.conn.AddCallback(cmd, c.onMessage)
	}
}

func (c *Client) onWelcome(ircmsg.Message) {
	c.tracker.Reset()
	slog.Info("Connected to IRC server", "server", c.conn.Server, "nick", c.conn.CurrentNick())
	for _, ch := range c.cfg.Channels {
		if err := c.conn.Join(ch); err != nil {
			slog.Warn("Failed to join channel", "channel", ch, "error", err)
		}
	}
}

func (c *Client) onMessage(msg ircmsg.Message) {
	ev := c.tracker.Observe(msg, c.conn.CurrentNick())
	if ev == nil {
		return
	}
	ctx := context.Background()
	if p := c.ctx.Load(); p != nil {
		ctx = *p
	}
	c.handle(ctx, ev, c.Network())
}

// Network snapshots the connection as seen by the watch router. Joined
// channels are never detached on a direct connection.
func (c *Client) Network() *watch.NetworkState {
	channels := make(map[string]bool)
	for _, ch := range c.tracker.Channels() {
		channels[ch] = false
	}
	return &watch.NetworkState{
		Name:     c.cfg.Server,
		Nick:     c.conn.CurrentNick(),
		DefNick:  c.cfg.Nick,
		Ident:    c.cfg.Username,
		RealName: c.cfg.RealName,
		User:     c.cfg.User,
		Attached: c.cfg.Attached,
		Channels: channels,
	}
}

// Sender returns the connection for use by a RelaySink.
func (c *Client) Sender() Sender { return c.conn }

// Run connects and processes messages until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.ctx.Store(&ctx)
	if err := c.conn.Connect(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.conn.Server, err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Quit()
		case <-done:
		}
	}()
	c.conn.Loop()
	close(done)
	slog.Info("IRC connection closed", "server", c.conn.Server)
	return nil
}
