package sql_test

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	bt "github.com/tempograph/bitemporal"
	"github.com/tempograph/bitemporal/dbtest"
	btsql "github.com/tempograph/bitemporal/sql"
)

func TestStorage(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) (bt.Storage, func()) {
		conn, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)

		storage := btsql.NewStorage(conn, "")
		_, err = conn.Exec(storage.Schema())
		require.NoError(t, err)

		return storage, func() { conn.Close() }
	})
}
