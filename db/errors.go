package db

import (
	"strings"

	"github.com/teranos/datagraph/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically occurs during shutdown when the connection is closed before
// an in-flight asynchronous proxy request has finished.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// This handles both wrapped ErrDatabaseClosed errors from this package and raw
// sql driver errors that only carry "database is closed" in their message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	// the sql package returns its own unexported error for this
	return strings.Contains(err.Error(), "database is closed")
}
