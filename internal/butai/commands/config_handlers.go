package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/butai/internal/butai/audit"
	"github.com/bdobrica/butai/internal/butai/config"
	"github.com/bdobrica/butai/internal/butai/store"
)

func permittedKeyList() string {
	keys := make([]string, len(config.Knobs))
	for i, k := range config.Knobs {
		keys[i] = k.Key
	}
	return strings.Join(keys, ", ")
}

func knobFor(key string) (config.Knob, error) {
	if key == "" {
		return config.Knob{}, fmt.Errorf("missing key; permitted keys: %s", permittedKeyList())
	}
	k, ok := config.Lookup(key)
	if !ok {
		return config.Knob{}, fmt.Errorf("unknown config key %q; permitted keys: %s", key, permittedKeyList())
	}
	return k, nil
}

// HandleConfigGet shows one knob.
func (h *Handlers) HandleConfigGet(ctx context.Context, cmd *Command) (string, error) {
	knob, err := knobFor(cmd.Args)
	if err != nil {
		return "", err
	}
	value, err := h.config.Get(ctx, knob.Key)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Sprintf("%s: (not set, using default)", knob.Key), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", knob.Key, value), nil
}

// HandleConfigSet validates and stores a knob.
//
// Usage: config set <key> <value>
func (h *Handlers) HandleConfigSet(ctx context.Context, cmd *Command) (string, error) {
	fields := cmd.Fields()
	if len(fields) != 2 {
		return "", fmt.Errorf("usage: config set <key> <value>; permitted keys: %s", permittedKeyList())
	}
	knob, err := knobFor(fields[0])
	if err != nil {
		return "", err
	}
	if err := knob.Validate(fields[1]); err != nil {
		return "", err
	}
	err = h.config.Set(ctx, knob.Key, fields[1])
	h.record(ctx, cmd, audit.KindConfig, knob.Key, store.AuditPayload{"value": fields[1]}, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✓ %s set to %s", knob.Key, fields[1]), nil
}

// HandleConfigUnset reverts a knob to its default.
func (h *Handlers) HandleConfigUnset(ctx context.Context, cmd *Command) (string, error) {
	knob, err := knobFor(cmd.Args)
	if err != nil {
		return "", err
	}
	err = h.config.Delete(ctx, knob.Key)
	h.record(ctx, cmd, audit.KindConfig, knob.Key, nil, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✓ %s reverted to its default", knob.Key), nil
}

// HandleConfigList shows every knob, set or not.
func (h *Handlers) HandleConfigList(ctx context.Context, cmd *Command) (string, error) {
	set, err := h.config.List(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("runtime config:\n")
	for _, k := range config.Knobs {
		v, ok := set[k.Key]
		if !ok {
			v = "(default)"
		}
		fmt.Fprintf(&b, "%-24s %-10s %s\n", k.Key, v, k.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
