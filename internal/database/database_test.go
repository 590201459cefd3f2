package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wacompose/internal/errors"
	"wacompose/internal/models"
	"wacompose/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-test-secret-of-32-characters!!"

const chatJID = "123@s.whatsapp.net"

func setupTestDB(t *testing.T, encrypt bool) *Database {
	t.Helper()
	cfg := models.DatabaseConfig{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Encrypt: encrypt,
	}
	if encrypt {
		cfg.EncryptionSecret = testSecret
	}
	db, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func textInfo(jid, id, text string, ts int64) *types.WebMessageInfo {
	return &types.WebMessageInfo{
		Key:              types.MessageKey{RemoteJID: jid, FromMe: true, ID: id},
		Message:          &types.Message{Type: types.ContentText, Text: &types.TextMessage{Text: text}},
		MessageTimestamp: ts,
		Status:           types.StatusPending,
	}
}

func collectIDs(t *testing.T, it types.HistoryIterator) []string {
	t.Helper()
	msgs, err := types.Collect(it)
	require.NoError(t, err)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.Key.ID)
	}
	return ids
}

func TestNew(t *testing.T) {
	t.Run("creates file and schema", func(t *testing.T) {
		db := setupTestDB(t, false)
		assert.NoError(t, db.Ping(context.Background()))
	})

	t.Run("rejects traversal path", func(t *testing.T) {
		_, err := New(context.Background(), models.DatabaseConfig{Path: "../history.db"})
		assert.Error(t, err)
	})

	t.Run("rejects short secret", func(t *testing.T) {
		_, err := New(context.Background(), models.DatabaseConfig{
			Path:             filepath.Join(t.TempDir(), "h.db"),
			Encrypt:          true,
			EncryptionSecret: "short",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least")
	})

	t.Run("reopen keeps data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "h.db")
		ctx := context.Background()
		db, err := New(ctx, models.DatabaseConfig{Path: path})
		require.NoError(t, err)
		_, err = db.InsertIfAbsent(ctx, textInfo(chatJID, "A", "hi", 1))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = New(ctx, models.DatabaseConfig{Path: path})
		require.NoError(t, err)
		defer db.Close()
		got, err := db.Get(ctx, types.MessageKey{RemoteJID: chatJID, FromMe: true, ID: "A"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "hi", got.Message.Text.Text)
	})
}

func TestHistoryStore(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		name := "plain"
		if encrypt {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := setupTestDB(t, encrypt)

			key := types.MessageKey{RemoteJID: chatJID, FromMe: true, ID: "A"}
			got, err := db.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got)

			inserted, err := db.InsertIfAbsent(ctx, textInfo(chatJID, "A", "first", 10))
			require.NoError(t, err)
			assert.True(t, inserted)

			inserted, err = db.InsertIfAbsent(ctx, textInfo(chatJID, "A", "second", 11))
			require.NoError(t, err)
			assert.False(t, inserted)

			got, err = db.Get(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "first", got.Message.Text.Text)
			assert.Equal(t, int64(10), got.MessageTimestamp)

			require.NoError(t, db.Put(ctx, textInfo(chatJID, "A", "replaced", 12)))
			got, err = db.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "replaced", got.Message.Text.Text)

			n, err := db.CountMessages(ctx, chatJID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestHistoryStore_ParticipantIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, true)
	group := "999-111@g.us"

	a := textInfo(group, "X", "from a", 1)
	a.Key.FromMe = false
	a.Key.Participant = types.StringPtr("1@s.whatsapp.net")
	b := textInfo(group, "X", "from b", 2)
	b.Key.FromMe = false
	b.Key.Participant = types.StringPtr("2@s.whatsapp.net")

	for _, info := range []*types.WebMessageInfo{a, b} {
		inserted, err := db.InsertIfAbsent(ctx, info)
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	got, err := db.Get(ctx, b.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "from b", got.Message.Text.Text)
	assert.Equal(t, "2@s.whatsapp.net", got.Key.ParticipantOrEmpty())
}

func TestHistoryStore_EncryptedColumns(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, true)
	_, err := db.InsertIfAbsent(ctx, textInfo(chatJID, "SECRET-ID", "secret body", 1))
	require.NoError(t, err)

	var remote, msgID string
	var body []byte
	err = db.db.QueryRowContext(ctx, "SELECT remote_jid, msg_id, body FROM messages").Scan(&remote, &msgID, &body)
	require.NoError(t, err)
	assert.NotEqual(t, chatJID, remote)
	assert.NotEqual(t, "SECRET-ID", msgID)
	assert.False(t, strings.Contains(string(body), "secret body"))
}

func TestMessagesPagination(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, false)
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := db.InsertIfAbsent(ctx, textInfo(chatJID, id, id, int64(100-i)))
		require.NoError(t, err)
	}
	_, err := db.InsertIfAbsent(ctx, textInfo("other@s.whatsapp.net", "o1", "x", 1))
	require.NoError(t, err)

	key := func(id string) *types.MessageKey {
		return &types.MessageKey{RemoteJID: chatJID, FromMe: true, ID: id}
	}

	tests := []struct {
		name   string
		cursor types.Cursor
		limit  int
		want   []string
	}{
		{"newest page", types.Cursor{}, 2, []string{"m4", "m5"}},
		{"oldest page", types.After(nil), 2, []string{"m1", "m2"}},
		{"before key", types.Before(key("m4")), 2, []string{"m2", "m3"}},
		{"after key", types.After(key("m2")), 2, []string{"m3", "m4"}},
		{"before first", types.Before(key("m1")), 2, nil},
		{"after last", types.After(key("m5")), 10, nil},
		{"unlimited", types.Cursor{}, 0, []string{"m1", "m2", "m3", "m4", "m5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := db.Messages(ctx, chatJID, tt.cursor, tt.limit)
			require.NoError(t, err)
			ids := collectIDs(t, it)
			if tt.want == nil {
				assert.Empty(t, ids)
				return
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMessagesPagination_ReplaceKeepsPosition(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, false)
	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := db.InsertIfAbsent(ctx, textInfo(chatJID, id, id, 1))
		require.NoError(t, err)
	}
	require.NoError(t, db.Put(ctx, textInfo(chatJID, "m1", "edited", 99)))

	it, err := db.Messages(ctx, chatJID, types.Cursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, collectIDs(t, it))
}

func TestMessagesPagination_CursorErrors(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, false)

	_, err := db.Messages(ctx, chatJID, types.Before(&types.MessageKey{RemoteJID: chatJID, ID: "missing"}), 10)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = db.Messages(ctx, chatJID, types.Before(&types.MessageKey{RemoteJID: "x@s.whatsapp.net", ID: "a"}), 10)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidContent))
}

func TestRowsIterator_CloseEarly(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, false)
	for _, id := range []string{"m1", "m2"} {
		_, err := db.InsertIfAbsent(ctx, textInfo(chatJID, id, id, 1))
		require.NoError(t, err)
	}

	it, err := db.Messages(ctx, chatJID, types.Cursor{}, 10)
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, "m1", it.Message().Key.ID)
	require.NoError(t, it.Close())
	assert.False(t, it.Next())
	assert.NoError(t, it.Close())
}

func TestUploadCache(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t, false)
	cache := NewUploadCache(db, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	cache.now = func() time.Time { return now }

	_, err := cache.Get(ctx, "image:abc")
	assert.ErrorIs(t, err, errors.ErrCacheMiss)

	want := &types.UploadResult{MediaURL: "https://mmg.whatsapp.net/x", DirectPath: "/x"}
	require.NoError(t, cache.Set(ctx, "image:abc", want))

	got, err := cache.Get(ctx, "image:abc")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = cache.Get(ctx, "video:abc")
	assert.ErrorIs(t, err, errors.ErrCacheMiss)

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(ctx, "image:abc")
	assert.ErrorIs(t, err, errors.ErrCacheMiss)

	purged, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestEncryptor(t *testing.T) {
	t.Run("disabled passes through", func(t *testing.T) {
		enc, err := newEncryptor(false, "")
		require.NoError(t, err)
		sealed, err := enc.Seal([]byte("data"))
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), sealed)
		assert.Equal(t, "jid", enc.LookupKey("jid"))
	})

	t.Run("requires secret", func(t *testing.T) {
		_, err := newEncryptor(true, "")
		assert.Error(t, err)
	})

	t.Run("seal uses random nonce", func(t *testing.T) {
		enc, err := newEncryptor(true, testSecret)
		require.NoError(t, err)
		a, err := enc.Seal([]byte("data"))
		require.NoError(t, err)
		b, err := enc.Seal([]byte("data"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		plain, err := enc.Open(a)
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), plain)
	})

	t.Run("lookup key is deterministic", func(t *testing.T) {
		enc, err := newEncryptor(true, testSecret)
		require.NoError(t, err)
		assert.Equal(t, enc.LookupKey("abc"), enc.LookupKey("abc"))
		assert.NotEqual(t, enc.LookupKey("abc"), enc.LookupKey("abd"))
		assert.Equal(t, "", enc.LookupKey(""))
	})

	t.Run("open rejects tampered data", func(t *testing.T) {
		enc, err := newEncryptor(true, testSecret)
		require.NoError(t, err)
		_, err = enc.Open([]byte("short"))
		assert.Error(t, err)

		sealed, err := enc.Seal([]byte("data"))
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0xff
		_, err = enc.Open(sealed)
		assert.Error(t, err)
	})
}

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{sql.ErrNoRows, false},
		{assert.AnError, false},
		{errString("database is locked"), true},
		{errString("disk I/O error"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableDBError(tt.err))
	}
}

type errString string

func (e errString) Error() string { return string(e) }
