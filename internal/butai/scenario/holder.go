package scenario

import (
	"fmt"
	"sync/atomic"
)

// Holder publishes the live rule table. Readers take a snapshot with
// Current at the start of a turn and use it until the turn ends.
type Holder struct {
	cur atomic.Pointer[Table]
}

// NewHolder returns a Holder serving t.
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.cur.Store(t)
	return h
}

// Current returns the live table.
func (h *Holder) Current() *Table {
	return h.cur.Load()
}

// Replace swaps in next if it casts the same characters in the same
// scenarios as the live table. Otherwise the live table is kept and an
// error wrapping ErrCastChanged is returned.
func (h *Holder) Replace(next *Table) error {
	for {
		prev := h.cur.Load()
		if prev != nil && !prev.SameCast(next) {
			return fmt.Errorf("%w: live %v, new %v", ErrCastChanged, prev.Cast(), next.Cast())
		}
		if h.cur.CompareAndSwap(prev, next) {
			return nil
		}
	}
}
