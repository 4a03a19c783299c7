// Package generation produces in-character replies from an external
// completion service.
//
// The service is treated as flaky: it may return nothing, or parrot a short
// piece of the dialogue it was given. Client re-samples a bounded number of
// times and rejects both cases before giving up on the token.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bdobrica/butai/common/retry"
	"github.com/bdobrica/butai/common/trace"
)

const (
	// MaxAttempts is the number of completion calls made for one generation
	// token before the token is dropped.
	MaxAttempts = 7
	// DegenerateEchoMaxLen is the longest reply, in runes, that is rejected
	// when it appears verbatim in the recent dialogue.
	DegenerateEchoMaxLen = 5
)

var (
	// ErrExhausted is returned when every attempt produced an unusable reply.
	ErrExhausted = errors.New("generation: attempts exhausted")
	// ErrServiceFailure marks a failure the service reported explicitly.
	// It is not retried.
	ErrServiceFailure = errors.New("generation: service failure")

	errEmptyReply     = errors.New("empty reply")
	errDegenerateEcho = errors.New("reply echoes the dialogue")
)

// FailureSentinels are reply bodies that completion gateways return instead
// of an error status when the upstream model failed.
var FailureSentinels = []string{
	"somethingwentwrongwithyuanservice",
	"请求异常，请重试",
}

// Settings are the sampling parameters for one completion call. Zero values
// leave the backend's defaults in place.
type Settings struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Completer calls a completion backend once.
//
// Implementations wrap non-retryable failures (bad credentials, unknown
// model) with ErrServiceFailure; any other error is treated as transient.
type Completer interface {
	Complete(ctx context.Context, prompt string, s Settings) (string, error)
}

// Options configure a Client.
type Options struct {
	// MaxAttempts defaults to MaxAttempts.
	MaxAttempts int
	// StopMarker truncates the reply at its first occurrence, typically the
	// closing quote of the line being written. Empty disables truncation.
	StopMarker string
	// Settings is consulted before every call so that operators can tune
	// sampling at run time. Nil means backend defaults.
	Settings func(ctx context.Context) Settings
}

// Client runs the retry policy around a Completer.
type Client struct {
	completer   Completer
	maxAttempts int
	stopMarker  string
	settings    func(ctx context.Context) Settings
}

// New returns a Client for c.
func New(c Completer, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = MaxAttempts
	}
	if opts.Settings == nil {
		opts.Settings = func(context.Context) Settings { return Settings{} }
	}
	return &Client{
		completer:   c,
		maxAttempts: opts.MaxAttempts,
		stopMarker:  opts.StopMarker,
		settings:    opts.Settings,
	}
}

// Generate completes prompt. history is the recent dialogue used to detect
// echoes. The returned error wraps ErrServiceFailure or ErrExhausted when
// no usable reply was produced.
func (c *Client) Generate(ctx context.Context, prompt, history string) (string, error) {
	s := c.settings(ctx)
	log := slog.With("trace_id", trace.FromContext(ctx))

	reply, err := retry.Value(ctx, retry.Config{
		MaxAttempts: c.maxAttempts,
		ShouldRetry: func(err error) bool { return !errors.Is(err, ErrServiceFailure) },
	}, func(attempt int) (string, error) {
		raw, err := c.completer.Complete(ctx, prompt, s)
		if err != nil {
			log.Warn("generation: completion call failed", "attempt", attempt, "err", err)
			return "", err
		}
		reply := c.clean(raw)
		switch {
		case isSentinel(reply):
			return "", fmt.Errorf("%w: %q", ErrServiceFailure, reply)
		case reply == "":
			return "", errEmptyReply
		case IsDegenerateEcho(reply, history):
			log.Debug("generation: rejected echo", "attempt", attempt, "reply", reply)
			return "", errDegenerateEcho
		}
		return reply, nil
	})
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, ErrServiceFailure) || ctx.Err() != nil {
		return "", err
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, c.maxAttempts, err)
}

func (c *Client) clean(raw string) string {
	if c.stopMarker != "" {
		if i := strings.Index(raw, c.stopMarker); i >= 0 {
			raw = raw[:i]
		}
	}
	return strings.TrimSpace(raw)
}

// IsDegenerateEcho reports whether reply is short enough to be a parroted
// fragment and occurs verbatim in history.
func IsDegenerateEcho(reply, history string) bool {
	return utf8.RuneCountInString(reply) <= DegenerateEchoMaxLen && strings.Contains(history, reply)
}

func isSentinel(reply string) bool {
	for _, s := range FailureSentinels {
		if reply == s {
			return true
		}
	}
	return false
}
