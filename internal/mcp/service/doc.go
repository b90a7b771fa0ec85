// Package service wires the questline MCP tools to a transport.
//
// It runs the tool server over stdio for a local agent or over streamable
// HTTP for remote clients and delegates every tool to the handlers in the
// domain package.
package service
