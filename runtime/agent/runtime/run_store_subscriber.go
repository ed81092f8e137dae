package runtime

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/hooks"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
)

// handleRunStoreEvent keeps the configured run store in sync with the hook
// events of the controller. It loads then upserts so replayed events converge
// to the same record.
func (c *Controller) handleRunStoreEvent(ctx context.Context, evt hooks.Event) error {
	switch e := evt.(type) {
	case *hooks.RunStatusChangedEvent:
		return c.upsertRunRecord(ctx, evt, func(rec *run.Record) {
			rec.Status = e.To
			rec.Attempts = e.Attempt
			if e.To != run.StatusInterrupted {
				rec.PendingInterruptID = ""
				rec.PendingReason = ""
			}
			if e.Err != nil {
				rec.Error = e.Err.Error()
			}
		})
	case *hooks.InterruptObservedEvent:
		return c.upsertRunRecord(ctx, evt, func(rec *run.Record) {
			rec.Status = run.StatusInterrupted
			rec.PendingInterruptID = e.Interrupt.ID
			rec.PendingReason = e.Interrupt.Reason
		})
	}
	return nil
}

func (c *Controller) upsertRunRecord(ctx context.Context, evt hooks.Event, update func(*run.Record)) error {
	rec, err := c.store.Load(ctx, evt.ThreadID(), evt.RunID())
	if err != nil && !errors.Is(err, run.ErrNotFound) {
		return err
	}
	eventTime := time.UnixMilli(evt.Timestamp())
	if rec.RunID == "" {
		rec.ThreadID = evt.ThreadID()
		rec.RunID = evt.RunID()
		rec.StartedAt = eventTime
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = eventTime
	}
	rec.UpdatedAt = eventTime
	rec.Labels = mergeLabels(rec.Labels, c.labels())
	update(&rec)
	return c.store.Upsert(ctx, rec)
}

func (c *Controller) labels() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.req.Labels)
}

func mergeLabels(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}
