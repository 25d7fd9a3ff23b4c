// Package mcp exposes the playbook services as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/logger"
	"playbooks/internal/reqctx"
	"playbooks/internal/validate"
)

const serverName = "playbooks"

// Server binds one user, fixed at process start, to every tool call.
type Server struct {
	MCPServer *sdkmcp.Server

	engine *engine.Engine
	user   domain.User
	log    *logger.Logger
}

func NewServer(e *engine.Engine, user domain.User, version string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: serverName, Version: version}, nil),
		engine:    e,
		user:      user,
		log:       log,
	}
	s.registerTools()
	return s
}

// Run serves on stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("starting MCP server over stdio", "user_id", s.user.ID)
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

type toolFailure struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Retryable bool              `json:"retryable"`
}

func failure(err error) *sdkmcp.CallToolResult {
	code := engine.CodeOf(err)
	body := toolFailure{Code: string(code), Message: err.Error(), Retryable: code == engine.CodeUnavailable}
	var ve *validate.Error
	if errors.As(err, &ve) {
		body.Fields = ve.Result.Messages()
		body.Warnings = ve.Result.Warnings
	}
	if code == engine.CodeInternal {
		body.Message = "internal error"
	}
	data, _ := json.Marshal(body)
	return &sdkmcp.CallToolResult{
		IsError:           true,
		Content:           []sdkmcp.Content{&sdkmcp.TextContent{Text: string(data)}},
		StructuredContent: body,
	}
}

// addTool registers a typed tool whose calls each run in their own request context.
func addTool[In any](s *Server, name, description string, call func(ctx context.Context, in In) (any, error)) {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{Name: name, Description: description},
		func(ctx context.Context, _ *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
			ctx, end := reqctx.Begin(ctx, "")
			defer end()
			ctx = reqctx.BindUser(ctx, s.user.ID)
			log := s.log.For(ctx).With("tool", name)
			out, err := call(ctx, in)
			if err != nil {
				if engine.CodeOf(err) == engine.CodeInternal {
					log.Error("tool call failed", "error", err)
				} else {
					log.Info("tool call rejected", "code", string(engine.CodeOf(err)), "error", err)
				}
				return failure(err), nil, nil
			}
			log.Debug("tool call served")
			return nil, out, nil
		})
}
