package database

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// driverName is the go-sqlite3 driver with riffstore's SQL functions
// registered on every connection.
const driverName = "sqlite3_riffstore"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("fold", foldCase, true)
		},
	})
}

// foldCase is Unicode full case folding, exposed to SQL as fold(text). SQLite's
// own NOCASE and LIKE only fold ASCII.
func foldCase(s string) string {
	// a Caser keeps state, so each call gets its own
	return cases.Fold().String(s)
}
