package chatsync

import (
	"sort"
	"time"
)

// Merge folds batch into log and returns the new log. Every message is
// keyed by id; batch entries overwrite existing ones with the same id, and
// the result is sorted ascending by CreatedAt (ties broken by id).
//
// Merge is idempotent and commutative over overlapping batches, which is
// what lets polls and send confirmations interleave freely. Neither input
// is modified.
func Merge(log, batch []Message) []Message {
	byID := make(map[string]Message, len(log)+len(batch))
	for _, m := range log {
		byID[m.ID] = m
	}
	for _, m := range batch {
		byID[m.ID] = m
	}

	merged := make([]Message, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sortMessages(merged)
	return merged
}

func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Cursor is the sync watermark: the creation time of the most recently
// observed message. The zero Cursor is unset and means "fetch everything".
type Cursor struct {
	at  time.Time
	set bool
}

// CursorAt returns a set cursor at t.
func CursorAt(t time.Time) Cursor {
	return Cursor{at: t, set: true}
}

// IsSet reports whether the cursor has observed any message.
func (c Cursor) IsSet() bool { return c.set }

// Time returns the watermark. It is the zero time for an unset cursor.
func (c Cursor) Time() time.Time { return c.at }

// Advance returns the cursor moved to t, or c unchanged if t is not later.
func (c Cursor) Advance(t time.Time) Cursor {
	if c.set && !t.After(c.at) {
		return c
	}
	return Cursor{at: t, set: true}
}

// AdvanceBatch moves the cursor to the last message of batch in merge
// order. An empty batch leaves the cursor alone.
func (c Cursor) AdvanceBatch(batch []Message) Cursor {
	if len(batch) == 0 {
		return c
	}
	sorted := make([]Message, len(batch))
	copy(sorted, batch)
	sortMessages(sorted)
	return c.Advance(sorted[len(sorted)-1].CreatedAt)
}

func (c Cursor) String() string {
	if !c.set {
		return "unset"
	}
	return c.at.Format(time.RFC3339Nano)
}
