// Package mailbox reads and writes the session and inbox records kept in the
// shared object store.
//
// Remote failures never surface as errors from reads: an unreachable or slow
// store looks the same as an empty one, and the caller keeps working on stale
// data. Writes are conditional on the version read just before them. Under
// the default drop policy a write that loses the race is logged and dropped;
// under the retry policy it is re-read, re-applied and retried with bounded
// backoff.
package mailbox
