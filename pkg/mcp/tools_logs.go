package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	toolServerLogs = "server_logs"

	defaultLogLines = 50
)

type ServerLogsInput struct {
	Match string `json:"match,omitempty" jsonschema:"Only return lines containing this text."`
	Lines int    `json:"lines,omitempty" jsonschema:"Maximum number of lines to return. Defaults to 50."`
}

type ServerLogsOutput struct {
	Lines   []string `json:"lines"`
	Dropped int      `json:"dropped" jsonschema:"Lines discarded because the log buffer was full."`
}

func (s *Server) handleServerLogs(
	_ context.Context,
	_ *mcp.CallToolRequest,
	in ServerLogsInput,
) (*mcp.CallToolResult, ServerLogsOutput, error) {
	n := in.Lines
	if n <= 0 {
		n = defaultLogLines
	}

	lines := s.recorder.Tail(n, in.Match)
	if lines == nil {
		lines = []string{}
	}

	return nil, ServerLogsOutput{Lines: lines, Dropped: s.recorder.Dropped()}, nil
}
