package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Knob keys.
const (
	KeyTemperature = "generation.temperature"
	KeyTopP        = "generation.top_p"
	KeyMaxTokens   = "generation.max_tokens"
)

// Knob describes one permitted key.
type Knob struct {
	Key         string
	Description string
	validate    func(string) error
}

// Validate checks value for this knob.
func (k Knob) Validate(value string) error {
	if err := k.validate(value); err != nil {
		return fmt.Errorf("%s: %w", k.Key, err)
	}
	return nil
}

// Knobs lists the permitted keys in display order.
var Knobs = []Knob{
	{KeyTemperature, "sampling temperature, 0 to 2", floatIn(0, 2)},
	{KeyTopP, "nucleus sampling mass, 0 to 1", floatIn(0, 1)},
	{KeyMaxTokens, "reply length cap in tokens", intIn(1, 8192)},
}

// Lookup returns the knob for key.
func Lookup(key string) (Knob, bool) {
	for _, k := range Knobs {
		if k.Key == key {
			return k, true
		}
	}
	return Knob{}, false
}

func floatIn(lo, hi float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", s)
		}
		if v < lo || v > hi {
			return fmt.Errorf("%v is outside [%v, %v]", v, lo, hi)
		}
		return nil
	}
}

func intIn(lo, hi int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%q is not an integer", s)
		}
		if v < lo || v > hi {
			return fmt.Errorf("%d is outside [%d, %d]", v, lo, hi)
		}
		return nil
	}
}

// Float reads key as a float, returning def when it is unset or unreadable.
func Float(ctx context.Context, s Store, key string, def float64) float64 {
	raw, ok := lookup(ctx, s, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("config: ignoring malformed value", "key", key, "value", raw)
		return def
	}
	return v
}

// Int reads key as an int, returning def when it is unset or unreadable.
func Int(ctx context.Context, s Store, key string, def int) int {
	raw, ok := lookup(ctx, s, key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("config: ignoring malformed value", "key", key, "value", raw)
		return def
	}
	return v
}

func lookup(ctx context.Context, s Store, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("config: read failed, using default", "key", key, "err", err)
		}
		return "", false
	}
	return v, true
}
