package fallback

import (
	"context"
	"sync"

	"threatwatch/internal/schema"
)

// maxBufferedActivity bounds the in-memory activity window. Detection
// quality degrades with the shorter history; that is the accepted cost
// of running without ClickHouse.
const maxBufferedActivity = 10000

// ActivityBuffer is an in-memory activity log for degraded mode. It
// holds a bounded trailing window of records, oldest dropped first.
type ActivityBuffer struct {
	mu      sync.Mutex
	records []*schema.ActivityRecord
}

// NewActivityBuffer creates an empty activity buffer.
func NewActivityBuffer() *ActivityBuffer {
	return &ActivityBuffer{}
}

// Append adds a record to the buffer. It never fails.
func (b *ActivityBuffer) Append(_ context.Context, rec *schema.ActivityRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, rec)
	if len(b.records) > maxBufferedActivity {
		b.records = b.records[len(b.records)-maxBufferedActivity:]
	}
	return nil
}

// Query returns buffered records matching the filter, oldest first.
func (b *ActivityBuffer) Query(_ context.Context, filter schema.ActivityFilter) ([]*schema.ActivityRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*schema.ActivityRecord
	for _, rec := range b.records {
		if filter.Actor != "" && rec.Actor != filter.Actor {
			continue
		}
		if filter.IP != "" && rec.IPAddress != filter.IP {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		if filter.Success != nil && rec.Success != *filter.Success {
			continue
		}
		if !filter.From.IsZero() && rec.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
