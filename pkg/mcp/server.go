// Package mcp serves the token ledger, budgets, history and prompt tools to
// MCP clients over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/byheaven/aitoy/pkg/budget"
	"github.com/byheaven/aitoy/pkg/generation"
	"github.com/byheaven/aitoy/pkg/models"
	"github.com/byheaven/aitoy/pkg/tracker"
)

// CacheStatter reports result cache statistics.
type CacheStatter interface {
	Stats() (models.CacheStats, error)
}

// HistoryQuerier reads the generation history.
type HistoryQuerier interface {
	Query(ctx context.Context, opts models.HistoryQueryOpts) ([]models.HistoryEntry, error)
}

// Deps are the read-side collaborators exposed as tools. Any of them may be
// nil; the matching tools then report that the feature is not configured.
type Deps struct {
	Tracker      tracker.Tracker
	Cache        CacheStatter
	Budget       *budget.Enforcer
	History      HistoryQuerier
	Service      *generation.Service
	Orchestrator *generation.Orchestrator
	Logger       *slog.Logger
}

// Server is a minimal MCP server speaking line-delimited JSON-RPC 2.0.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	version string
}

// New creates a Server.
func New(d Deps, version string) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: d, logger: logger, version: version}
}

// Run reads requests from r line by line and writes responses to w.
// It returns when r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != "2.0" {
			s.write(w, rpcError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "aitoy", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		if len(req.ID) == 0 {
			return nil
		}
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	s.logger.Debug("mcp tool call", "tool", params.Name)
	return result(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) write(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("mcp marshal", "err", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("mcp write", "err", err)
	}
}
