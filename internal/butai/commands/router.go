// Package commands implements the directors' plain-text control channel.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/width"

	"github.com/bdobrica/butai/common/trace"
	"github.com/bdobrica/butai/internal/butai/drama"
)

// ErrNotACommand is returned by Parse when no registered phrase matches.
var ErrNotACommand = errors.New("not a command")

// Command is a matched director command.
type Command struct {
	// Name is the registered phrase, e.g. "reload scenarios".
	Name string
	// Args is the trimmed text after the phrase.
	Args    string
	Sender  string
	Room    string
	RawText string
}

// Fields splits Args on whitespace.
func (c *Command) Fields() []string {
	return strings.Fields(c.Args)
}

// Handler runs a command and returns the reply for the director.
type Handler func(ctx context.Context, cmd *Command) (string, error)

type entry struct {
	phrase  string
	usage   string
	summary string
	args    bool
	handler Handler
}

// Router matches director text against registered phrases. Matching is
// case-insensitive and treats full-width letters as their ASCII forms, so
// "ＳＡＶＥ" from a CJK keyboard is "save".
type Router struct {
	entries []entry
}

var _ drama.CommandHandler = (*Router)(nil)

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register adds a command that must be sent exactly as phrase.
func (r *Router) Register(phrase, summary string, h Handler) {
	r.add(entry{phrase: phrase, usage: phrase, summary: summary, handler: h})
}

// RegisterWithArgs adds a command whose phrase is followed by free text.
// usage is shown in help.
func (r *Router) RegisterWithArgs(phrase, usage, summary string, h Handler) {
	r.add(entry{phrase: phrase, usage: usage, summary: summary, args: true, handler: h})
}

func (r *Router) add(e entry) {
	e.phrase = normalise(e.phrase)
	r.entries = append(r.entries, e)
	// Longest phrase first so "stop take over" wins over "take over".
	sort.SliceStable(r.entries, func(i, j int) bool {
		return len([]rune(r.entries[i].phrase)) > len([]rune(r.entries[j].phrase))
	})
}

// Parse matches text to a registered command.
func (r *Router) Parse(text string) (*Command, Handler, error) {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	for _, e := range r.entries {
		n := len([]rune(e.phrase))
		if len(runes) < n || normalise(string(runes[:n])) != e.phrase {
			continue
		}
		rest := strings.TrimSpace(string(runes[n:]))
		if !e.args && rest != "" {
			continue
		}
		return &Command{Name: e.phrase, Args: rest, RawText: text}, e.handler, nil
	}
	return nil, nil, ErrNotACommand
}

// HandleCommand runs msg as a command. handled is false when msg is not one.
// Handler errors become the reply.
func (r *Router) HandleCommand(ctx context.Context, msg drama.Inbound) (string, bool) {
	cmd, h, err := r.Parse(msg.Text)
	if err != nil {
		return "", false
	}
	cmd.Sender, cmd.Room = msg.From, msg.Room

	ctx = trace.Ensure(ctx)
	reply, err := h(ctx, cmd)
	if err != nil {
		slog.Warn("command failed",
			"trace_id", trace.FromContext(ctx), "command", cmd.Name, "sender", cmd.Sender, "err", err)
		return fmt.Sprintf("✗ %s: %v", cmd.Name, err), true
	}
	return reply, true
}

// Help lists the registered commands in registration-independent order.
func (r *Router) Help(title string) string {
	entries := append([]entry(nil), r.entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].usage < entries[j].usage })

	var b strings.Builder
	b.WriteString(title)
	b.WriteString(":\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s -- %s\n", e.usage, e.summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func normalise(s string) string {
	return strings.ToLower(width.Narrow.String(s))
}
