// Package session serves as an umbrella for multiplayer session coordination.
//
// The package is organized into four subpackages:
//   - domain: Defines the session, its participants, location groups and group turns.
//   - marker: Owns the local session mirror, the dream marker and scratch files.
//   - service: Implements create, join, end and the group/turn operations.
//   - relay: Moves outbox messages and turn state through the shared mailbox.
package session
