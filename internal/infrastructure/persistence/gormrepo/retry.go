package gormrepo

import (
	"strings"
	"time"
)

// withLockRetry retries a write operation against the embedded sqlite store
// when it fails with a transient "database is locked" error, backing off
// exponentially (100ms, 200ms, 400ms) for up to 3 attempts total. WAL mode
// and a generous busy_timeout already absorb most contention; this is the
// last line of defense for the rare case a statement outlives the pragma's
// own wait.
func withLockRetry(fn func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isLockedError(err) {
			return err
		}
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return err
}

func isLockedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
