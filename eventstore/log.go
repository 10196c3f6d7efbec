package eventstore

import (
	"context"
	"time"
)

// LogQuery selects a page of a stream's history. Events at or after From
// with Version > AfterVersion are returned, at most Limit of them.
type LogQuery struct {
	From         time.Time
	AfterVersion uint64
	Limit        int
}

// LogPage is one page of decrypted history in commit order.
//
// Count is the number of events in the page and Limit the effective page
// size. When More is set, NextVersion is the cursor for the next page.
type LogPage struct {
	Events      []Event
	Count       int
	Limit       int
	More        bool
	NextVersion uint64
}

// QueryLog reads a stream's history for audit. Snapshots are ignored.
func (r *Repository) QueryLog(ctx context.Context, aggregateType, aggregateID string, q LogQuery) (LogPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = r.opts.DefaultLogLimit
	}
	if limit > r.opts.MaxLogLimit {
		limit = r.opts.MaxLogLimit
	}

	records, err := r.backend.GetEvents(ctx, aggregateType, aggregateID, q.AfterVersion)
	if err != nil {
		return LogPage{}, stageErr("get events", err)
	}
	if q.AfterVersion == 0 && len(records) == 0 {
		return LogPage{}, ErrNotFound
	}

	page := LogPage{Events: make([]Event, 0, min(limit, len(records))), Limit: limit}
	for _, rec := range records {
		if !q.From.IsZero() && rec.OccurredAt.Before(q.From) {
			continue
		}
		if len(page.Events) == limit {
			page.More = true
			break
		}
		evt, err := r.decodeRecord(ctx, rec)
		if err != nil {
			return LogPage{}, err
		}
		page.Events = append(page.Events, evt)
		page.NextVersion = evt.Version
	}
	page.Count = len(page.Events)
	return page, nil
}
