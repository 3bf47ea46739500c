// Package plugin speaks the host protocol: one JSON object per line on stdin,
// one JSON object per line on stdout.
package plugin

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/lessucettes/ircguard/internal/session"
	"github.com/lessucettes/ircguard/internal/watch"
)

// Input types.
const (
	TypeEvent        = "event"
	TypeConnect      = "connect"
	TypeLoginAttempt = "login_attempt"
	TypeLoginFailed  = "login_failed"
	TypeLoginOK      = "login_ok"
	TypeAdmin        = "admin"
)

// Output types.
const (
	TypeDeliver = "deliver"
	TypeVerdict = "verdict"
	TypeResult  = "result"
)

// Verdict actions.
const (
	ActionAccept = "accept"
	ActionRefuse = "refuse"
)

// Input is one request from the host.
type Input struct {
	Type     string              `json:"type"`
	ID       string              `json:"id,omitempty"`
	User     string              `json:"user,omitempty"`
	Event    *watch.Event        `json:"event,omitempty"`
	Network  *watch.NetworkState `json:"network,omitempty"`
	IP       string              `json:"ip,omitempty"`
	Username string              `json:"username,omitempty"`
	Command  *Command            `json:"command,omitempty"`
}

// Command is an administrative operation. Rule is a 1-based position, or "*"
// for every rule where the operation allows it.
type Command struct {
	Op       string   `json:"op"`
	Rule     string   `json:"rule,omitempty"`
	HostMask string   `json:"hostmask,omitempty"`
	Target   string   `json:"target,omitempty"`
	Pattern  string   `json:"pattern,omitempty"`
	Sources  string   `json:"sources,omitempty"`
	On       bool     `json:"on,omitempty"`
	Hosts    []string `json:"hosts,omitempty"`
	Value    string   `json:"value,omitempty"`
	Data     string   `json:"data,omitempty"`
}

// Output is one message to the host.
type Output struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	User   string `json:"user,omitempty"`
	Target string `json:"target,omitempty"`
	Line   string `json:"line,omitempty"`
	Action string `json:"action,omitempty"`
	Msg    string `json:"msg,omitempty"`
	OK     *bool  `json:"ok,omitempty"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Writer serialises outputs onto one stream.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Write(out Output) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(out)
}

// SinkFor returns a session.Sink that emits deliver outputs for user.
func (w *Writer) SinkFor(user string) session.Sink {
	return &streamSink{w: w, user: user}
}

type streamSink struct {
	w    *Writer
	user string
}

func (s *streamSink) Deliver(ctx context.Context, target, line string) error {
	return s.w.Write(Output{Type: TypeDeliver, User: s.user, Target: target, Line: line})
}
