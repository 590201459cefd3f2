package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"wacompose/internal/codec"
	"wacompose/internal/errors"
	"wacompose/pkg/whatsapp/types"
)

var _ types.HistoryStore = (*Database)(nil)

type keyColumns struct {
	remoteJID   string
	fromMe      bool
	msgID       string
	participant string
}

func (d *Database) keyColumns(key types.MessageKey) keyColumns {
	return keyColumns{
		remoteJID:   d.encryptor.LookupKey(key.RemoteJID),
		fromMe:      key.FromMe,
		msgID:       d.encryptor.LookupKey(key.ID),
		participant: d.encryptor.LookupKey(key.ParticipantOrEmpty()),
	}
}

func (d *Database) encodeMessage(info *types.WebMessageInfo) ([]byte, error) {
	data, err := codec.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	sealed, err := d.encryptor.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}
	return sealed, nil
}

func decodeMessage(enc *encryptor, body []byte) (*types.WebMessageInfo, error) {
	data, err := enc.Open(body)
	if err != nil {
		return nil, err
	}
	var info types.WebMessageInfo
	if err := codec.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &info, nil
}

// lookup returns the seq and record of key, or found=false
func (d *Database) lookup(ctx context.Context, key types.MessageKey) (seq int64, info *types.WebMessageInfo, found bool, err error) {
	cols := d.keyColumns(key)
	var body []byte
	err = d.withRetry(ctx, "select message", func() error {
		scanErr := d.db.QueryRowContext(ctx, SelectMessageByKeyQuery,
			cols.remoteJID, cols.fromMe, cols.msgID, cols.participant,
		).Scan(&seq, &body)
		if stderrors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr == nil {
			found = true
		}
		return scanErr
	})
	if err != nil || !found {
		return 0, nil, false, err
	}

	info, err = decodeMessage(d.encryptor, body)
	if err != nil {
		return 0, nil, false, errors.NewDatabaseError("decode message", err)
	}
	return seq, info, true, nil
}

// Get returns the stored record for key or nil when absent
func (d *Database) Get(ctx context.Context, key types.MessageKey) (*types.WebMessageInfo, error) {
	_, info, _, err := d.lookup(ctx, key)
	return info, err
}

// InsertIfAbsent stores info unless a record with the same key exists
func (d *Database) InsertIfAbsent(ctx context.Context, info *types.WebMessageInfo) (bool, error) {
	body, err := d.encodeMessage(info)
	if err != nil {
		return false, errors.NewDatabaseError("encode message", err)
	}
	cols := d.keyColumns(info.Key)

	var inserted bool
	err = d.withRetry(ctx, "insert message", func() error {
		res, execErr := d.db.ExecContext(ctx, InsertMessageIfAbsentQuery,
			cols.remoteJID, cols.fromMe, cols.msgID, cols.participant, info.MessageTimestamp, body)
		if execErr != nil {
			return execErr
		}
		n, execErr := res.RowsAffected()
		if execErr != nil {
			return execErr
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// Put overwrites or creates the record for info.Key
func (d *Database) Put(ctx context.Context, info *types.WebMessageInfo) error {
	body, err := d.encodeMessage(info)
	if err != nil {
		return errors.NewDatabaseError("encode message", err)
	}
	cols := d.keyColumns(info.Key)

	return d.withRetry(ctx, "upsert message", func() error {
		_, execErr := d.db.ExecContext(ctx, UpsertMessageQuery,
			cols.remoteJID, cols.fromMe, cols.msgID, cols.participant, info.MessageTimestamp, body)
		return execErr
	})
}

// Messages returns a lazy page of the history of jid. A limit of zero or
// less returns every matching message.
func (d *Database) Messages(ctx context.Context, jid string, cursor types.Cursor, limit int) (types.HistoryIterator, error) {
	if limit <= 0 {
		limit = -1
	}
	chat := d.encryptor.LookupKey(jid)

	var query string
	args := []any{chat}
	switch {
	case cursor.Key == nil && cursor.IsAfter():
		query = SelectOldestPageQuery
	case cursor.Key == nil:
		query = SelectNewestPageQuery
	default:
		if cursor.Key.RemoteJID != jid {
			return nil, errors.NewInvalidContentError("cursor", "cursor key belongs to another chat")
		}
		seq, _, found, err := d.lookup(ctx, *cursor.Key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.NewNotFoundError("message", cursor.Key.ID)
		}
		args = append(args, seq)
		query = SelectPageBeforeQuery
		if cursor.IsAfter() {
			query = SelectPageAfterQuery
		}
	}
	args = append(args, limit)

	var rows *sql.Rows
	err := d.withRetry(ctx, "select history", func() error {
		var queryErr error
		rows, queryErr = d.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	if err != nil {
		return nil, err
	}
	return &rowsIterator{rows: rows, enc: d.encryptor}, nil
}

// CountMessages returns how many messages are stored for jid
func (d *Database) CountMessages(ctx context.Context, jid string) (int, error) {
	var n int
	err := d.withRetry(ctx, "count messages", func() error {
		return d.db.QueryRowContext(ctx, CountMessagesQuery, d.encryptor.LookupKey(jid)).Scan(&n)
	})
	return n, err
}

// rowsIterator decodes one row per Next call
type rowsIterator struct {
	rows    *sql.Rows
	enc     *encryptor
	current *types.WebMessageInfo
	err     error
	closed  bool
}

func (it *rowsIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		_ = it.Close()
		return false
	}

	var body []byte
	if err := it.rows.Scan(&body); err != nil {
		it.err = errors.NewDatabaseError("scan history", err)
		_ = it.Close()
		return false
	}
	info, err := decodeMessage(it.enc, body)
	if err != nil {
		it.err = errors.NewDatabaseError("decode message", err)
		_ = it.Close()
		return false
	}
	it.current = info
	return true
}

func (it *rowsIterator) Message() *types.WebMessageInfo {
	return it.current
}

func (it *rowsIterator) Err() error {
	return it.err
}

func (it *rowsIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.current = nil
	return it.rows.Close()
}
