package testutil

import (
	"fmt"
	"net"
	"testing"
	"time"
)

// pollInterval paces the readiness and cleanup checks below.
const pollInterval = 10 * time.Millisecond

// WaitForTCPReady blocks until addr accepts a TCP connection, or errors
// after timeout. Replaces sleep-based synchronization when starting
// servers in tests.
func WaitForTCPReady(addr string, timeout time.Duration) error {
	var lastErr error
	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); {
		conn, err := net.DialTimeout("tcp", addr, pollInterval*5)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("server at %s not ready within %v: %w", addr, timeout, lastErr)
}

// WaitForCondition polls check until it returns true, failing the test
// after timeout. Used to observe asynchronous server-side cleanup.
func WaitForCondition(t testing.TB, check func() bool, timeout time.Duration) {
	t.Helper()

	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); {
		if check() {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("condition not met within %v", timeout)
}
