// Package resilience provides retry with backoff and transient-error
// classification for database writes.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsTransient returns true if the error (or any error in its chain) is
// worth retrying: database errors that resolve on retry, or common
// network-level failure patterns (timeouts, connection resets, DNS).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Postgres errors that resolve on retry: serialization failures,
	// deadlocks, admin shutdown, connection exceptions (class 08).
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "55P03":
			return true
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
	}

	// Check for network-level transient errors.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Connection reset / refused / DNS.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for errors the drivers flatten to text.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
