// Package mcp exposes spec generation workflows as MCP tools over stdio.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the orchestrator directly. Tools start workflows, report their
// status, apply approval decisions, reset, cancel, list and delete them.
// Long-running generation happens on the background runner; tools return as
// soon as the work is queued. Document content in tool output is passed
// through the secret redactor.
package mcp
