// Package timeouts defines shared timeout constants used across packages.
package timeouts

import "time"

// RemoteCall caps one round-trip to the shared object store. Calls that
// exceed it degrade to "no data" at the mailbox boundary.
const RemoteCall = 15 * time.Second

// RedisDial caps the initial ping when opening a redis-backed store.
const RedisDial = 3 * time.Second

// SQLiteBusy is how long sqlite waits on a locked database before failing.
const SQLiteBusy = 5 * time.Second

// Shutdown limits how long telemetry flushes pending spans on exit.
const Shutdown = 5 * time.Second
