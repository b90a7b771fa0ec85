// Package domain defines the MCP tools exposed by the questline tool server:
// their input and result schemas and the handlers that drive the session,
// relay and inbox services.
//
// Results are flat structs with RFC3339 timestamps so the inferred output
// schemas stay simple for clients.
package domain
