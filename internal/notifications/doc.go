// Package notifications delivers asynchronous cross-player notifications
// through per-identity inbox refs.
//
// The domain subpackage owns the notification types, expiry and the
// dispatcher; render formats inbox listings and relay updates for humans.
package notifications
