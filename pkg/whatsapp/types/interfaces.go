package types

import "context"

// HistoryIterator is a lazy, finite, single-pass sequence of stored
// messages in chronological order. Close must be called when done.
type HistoryIterator interface {
	Next() bool
	Message() *WebMessageInfo
	Err() error
	Close() error
}

// HistoryStore persists messages keyed by MessageKey
type HistoryStore interface {
	// Get returns nil without error when the key is not stored
	Get(ctx context.Context, key MessageKey) (*WebMessageInfo, error)
	// InsertIfAbsent stores info unless its key exists and reports whether it did
	InsertIfAbsent(ctx context.Context, info *WebMessageInfo) (bool, error)
	// Put overwrites the record for info.Key, creating it if absent. An
	// overwritten record keeps its position in the history.
	Put(ctx context.Context, info *WebMessageInfo) error
	// Messages pages through the history of jid strictly before or after
	// the cursor key
	Messages(ctx context.Context, jid string, cursor Cursor, limit int) (HistoryIterator, error)
}

// SliceIterator iterates over an in-memory page
type SliceIterator struct {
	items []*WebMessageInfo
	pos   int
}

func NewSliceIterator(items []*WebMessageInfo) *SliceIterator {
	return &SliceIterator{items: items, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.items) {
		it.pos = len(it.items)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Message() *WebMessageInfo {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos]
}

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Close() error {
	it.pos = len(it.items)
	return nil
}

// Collect drains it into a slice and closes it
func Collect(it HistoryIterator) ([]*WebMessageInfo, error) {
	defer it.Close()
	var out []*WebMessageInfo
	for it.Next() {
		out = append(out, it.Message())
	}
	return out, it.Err()
}
