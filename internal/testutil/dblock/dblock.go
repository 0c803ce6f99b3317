// Package dblock serializes database integration tests across packages by
// holding a local TCP port for the duration of a test.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is free and returns its release func. The
// address can be moved with CONNECTOR_TEST_DBLOCK_ADDR.
func Acquire() func() {
	addr := os.Getenv("CONNECTOR_TEST_DBLOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
