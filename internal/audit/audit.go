// Package audit records every state-changing entry point without ever altering its outcome.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/authctx"
	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/model"
)

// Sink persists one audit record under key.
type Sink interface {
	Put(ctx context.Context, key string, rec model.AuditRecord) error
}

// Recorder builds keys, persists records and logs sink failures.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewRecorder constructs a recorder writing to sink.
func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	return &Recorder{sink: sink, log: log, now: time.Now, timeout: 5 * time.Second}
}

// Key returns the storage key of rec:
// audit/{date}/{event}-{userId|anonymous}-{timestamp without ':' and '.'}.json
func Key(rec model.AuditRecord, at time.Time) string {
	user := rec.UserID
	if user == "" {
		user = "anonymous"
	}
	ts := strings.NewReplacer(":", "", ".", "").Replace(model.Timestamp(at))
	return fmt.Sprintf("audit/%s/%s-%s-%s.json", at.UTC().Format("2006-01-02"), rec.EventName, user, ts)
}

// Record persists rec. Failures are logged and dropped.
func (r *Recorder) Record(ctx context.Context, rec model.AuditRecord) {
	at := r.now()
	if rec.Timestamp == "" {
		rec.Timestamp = model.Timestamp(at)
	}
	key := Key(rec, at)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Put(ctx, key, rec); err != nil {
		r.log.Error("audit persist failed", zap.String("key", key), zap.Error(err))
	}
}

// Wrap instruments fn under event. The returned function yields exactly what fn yields;
// a panic in fn is recorded and then re-raised.
func Wrap[In, Out any](r *Recorder, event, method string, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	if r == nil {
		return fn
	}
	return func(ctx context.Context, in In) (out Out, err error) {
		start := r.now()
		defer func() {
			p := recover()
			end := r.now()

			rec := model.AuditRecord{
				EventName:  event,
				MethodName: method,
				Parameters: in,
				DurationMs: end.Sub(start).Milliseconds(),
				StartedAt:  model.Timestamp(start),
				Timestamp:  model.Timestamp(end),
			}
			rec.UserID, _ = authctx.UserIDFromCtx(ctx)
			rec.SessionID, _ = authctx.SessionIDFromCtx(ctx)
			rec.ClientIP, _ = authctx.RemoteAddrFromCtx(ctx)

			fields := []zap.Field{
				zap.String("event", event),
				zap.String("userId", rec.UserID),
				zap.String("sessionId", rec.SessionID),
				zap.Int64("durationMs", rec.DurationMs),
			}
			switch {
			case p != nil:
				rec.ErrorType = "PANIC"
				rec.ErrorMessage = fmt.Sprint(p)
				r.log.Error("audit", append(fields, zap.Any("panic", p))...)
			case err != nil:
				rec.ErrorType = errs.Classify(err).Code
				rec.ErrorMessage = err.Error()
				r.log.Error("audit", append(fields, zap.String("code", rec.ErrorType), zap.Error(err))...)
			default:
				rec.Result = out
				r.log.Info("audit", fields...)
			}

			r.Record(ctx, rec)

			if p != nil {
				panic(p)
			}
		}()
		return fn(ctx, in)
	}
}
