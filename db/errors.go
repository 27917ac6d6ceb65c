package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/vclean/errors"
)

// ErrDatabaseClosed is returned when a store is used after shutdown closed its connection
var ErrDatabaseClosed = errors.New("database is closed")

// closedMessages are the texts drivers use for a closed handle
var closedMessages = []string{
	"sql: database is closed",
	"database is closed",
}

// IsDatabaseClosed reports whether err means the connection is gone,
// either as ErrDatabaseClosed, sql.ErrConnDone or a raw driver message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	msg := err.Error()
	for _, m := range closedMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
