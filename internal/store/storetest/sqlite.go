// Package storetest provides a throwaway SQLite target store for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"cdc-sink/internal/store"
)

// Schema mirrors the target tables. Foreign keys are declared but SQLite does
// not enforce them unless asked to, so events may arrive in any table order.
const Schema = `
CREATE TABLE product_categories (
	id INTEGER PRIMARY KEY,
	name TEXT
);
CREATE TABLE products (
	id INTEGER PRIMARY KEY,
	name TEXT,
	description TEXT,
	price NUMERIC(10, 2),
	category_id INTEGER REFERENCES product_categories(id)
);
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	email TEXT,
	is_active BOOLEAN,
	created_at TIMESTAMP,
	last_login TIMESTAMP
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	user_id INTEGER REFERENCES users(id),
	status TEXT,
	total_amount NUMERIC(10, 2),
	created_at TIMESTAMP
);
CREATE TABLE order_items (
	id INTEGER PRIMARY KEY,
	order_id INTEGER REFERENCES orders(id),
	product_id INTEGER REFERENCES products(id),
	quantity INTEGER,
	price NUMERIC(10, 2)
);
`

// New opens a file-backed SQLite database under t.TempDir with the target
// schema applied, and returns the store together with the raw handle for
// assertions.
func New(t testing.TB, logger *logrus.Logger) (*store.Store, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "target.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(Schema)
	require.NoError(t, err)

	s, err := store.New(db, store.DriverSQLite, logger)
	require.NoError(t, err)
	return s, db
}

// Count returns the number of rows in table
func Count(t testing.TB, db *sql.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
