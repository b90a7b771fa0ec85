// Package domain defines the multiplayer session record and the pure
// operations that partition participants into groups and rotate turns.
//
// # Session Lifecycle
//
// Sessions move through two statuses:
//   - Active: created by the host and mutated by every group, turn and
//     location operation.
//   - Ended: terminal; the local mirror is deleted right after.
//
// # Groups and Turns
//
// Participants sharing a location form a group. Groups are labelled a, b, c
// in the order their location is first seen. Split and Merge adjust groups
// directly and hold until the next full recompute. Turns rotate through
// groups in order of first appearance among participants; wrapping back to
// the first group starts a new round.
//
// Nothing in this package blocks or touches the network.
package domain
