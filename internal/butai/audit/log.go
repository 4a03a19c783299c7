package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/bdobrica/butai/common/trace"
	"github.com/bdobrica/butai/internal/butai/store"
)

// Writer persists audit records.
type Writer interface {
	WriteAudit(ctx context.Context, r store.AuditRecord) error
}

// Log writes every event to the audit table and forwards it to a notifier.
type Log struct {
	w Writer
	n Notifier
}

// NewLog returns a Log. Either argument may be nil.
func NewLog(w Writer, n Notifier) *Log {
	if n == nil {
		n = Noop{}
	}
	return &Log{w: w, n: n}
}

// Record stores and announces evt. Storage failures are logged.
func (l *Log) Record(ctx context.Context, evt Event) {
	if evt.TraceID == "" {
		evt.TraceID = trace.FromContext(ctx)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	if l.w != nil {
		rec := store.AuditRecord{
			TraceID: evt.TraceID,
			Actor:   evt.Actor,
			Action:  evt.Action,
			Target:  evt.Target,
			Result:  store.ResultSuccess,
			Payload: evt.Payload,
		}
		if evt.Err != nil {
			rec.Result = store.ResultError
			rec.Error = evt.Err.Error()
		}
		if err := l.w.WriteAudit(ctx, rec); err != nil {
			slog.Warn("audit write failed", "action", evt.Action, "err", err)
		}
	}
	l.n.Notify(ctx, evt)
}
