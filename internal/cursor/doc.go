// Package cursor persists per-reader progress through remote outboxes.
//
// A cursor is the highest outbox sequence number a reader has consumed for one
// (session, participant) pair. Cursors only move forward, so a message is
// never returned twice and never skipped.
//
// The same database holds the per-session idle loop counter that polling
// front ends use to stop after a bounded number of quiet iterations.
package cursor
