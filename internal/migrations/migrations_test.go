package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllOrdered(t *testing.T) {
	all, err := All()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 2)

	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
	assert.Equal(t, 1, all[0].Version)
	assert.Contains(t, all[0].SQL, "CREATE TABLE IF NOT EXISTS messages")
}

func TestGetInitialSchema(t *testing.T) {
	schema, err := GetInitialSchema()
	require.NoError(t, err)
	assert.Contains(t, schema, "UNIQUE (remote_jid, from_me, msg_id, participant)")
}

func TestApplyIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	all, err := All()
	require.NoError(t, err)

	applied, err := Apply(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, len(all), applied)

	applied, err = Apply(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	for _, table := range []string{"messages", "upload_cache"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}
