// Package mcpserver exposes recordings, transcriptions and sessions as
// read-only MCP tools over stdio.
package mcpserver
