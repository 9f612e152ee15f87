package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/skypro1111/voicememo-service/internal/session"
	"github.com/skypro1111/voicememo-service/internal/store"
)

const (
	serverName    = "voicememo"
	serverVersion = "1.0.0"
)

// Artifacts is the read side of the artifact store
type Artifacts interface {
	List() []store.Artifact
	Lookup(name string) (*store.Artifact, bool)
	ReadTranscription(id string) (string, error)
}

// Sessions is the read side of the session coordinator
type Sessions interface {
	List() []session.Session
	Get(id string) (session.Session, error)
}

// Server shares recordings and transcriptions with MCP clients. All tools
// are read-only.
type Server struct {
	mcp       *server.MCPServer
	artifacts Artifacts
	sessions  Sessions
	logger    *slog.Logger
}

// New creates an MCP server with every tool registered
func New(artifacts Artifacts, sessions Sessions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		artifacts: artifacts,
		sessions:  sessions,
		logger:    logger,
	}
	s.mcp = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions("Voice memo recordings and their transcriptions. Use list_recordings to find a recording, then get_transcription with its name."),
	)
	s.mcp.AddTools(s.tools()...)
	return s
}

// MCP returns the underlying server
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve speaks MCP over the given streams until ctx is done or in closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("MCP server listening on stdio")
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("list_recordings",
				mcp.WithDescription("List stored recordings and imports, oldest first"),
				mcp.WithBoolean("transcribed_only",
					mcp.Description("Only list recordings that have a saved transcription"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: s.listRecordings,
		},
		{
			Tool: mcp.NewTool("get_transcription",
				mcp.WithDescription("Read the saved transcription of a recording"),
				mcp.WithString("name",
					mcp.Required(),
					mcp.Description("Recording file name as returned by list_recordings"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: s.getTranscription,
		},
		{
			Tool: mcp.NewTool("list_sessions",
				mcp.WithDescription("List transcription sessions and their state"),
				mcp.WithString("state",
					mcp.Description("Only list sessions in this state"),
					mcp.Enum("idle", "recording", "stopped", "transcribing", "completed", "failed", "saved"),
				),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: s.listSessions,
		},
		{
			Tool: mcp.NewTool("get_session",
				mcp.WithDescription("Get one session, including its result text"),
				mcp.WithString("id", mcp.Required(), mcp.Description("Session ID")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: s.getSession,
		},
	}
}

type recording struct {
	Name             string       `json:"name"`
	Origin           store.Origin `json:"origin"`
	CreatedAt        string       `json:"created_at"`
	SizeBytes        int64        `json:"size_bytes"`
	HasTranscription bool         `json:"has_transcription"`
}

func (s *Server) listRecordings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transcribedOnly := req.GetBool("transcribed_only", false)

	out := []recording{}
	for _, a := range s.artifacts.List() {
		if transcribedOnly && !a.HasTranscription {
			continue
		}
		out = append(out, recording{
			Name:             a.Name(),
			Origin:           a.Origin,
			CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
			SizeBytes:        a.SizeBytes,
			HasTranscription: a.HasTranscription,
		})
	}
	return jsonResult(out)
}

func (s *Server) getTranscription(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	a, ok := s.artifacts.Lookup(strings.TrimSpace(name))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("recording %q not found", name)), nil
	}

	text, err := s.artifacts.ReadTranscription(a.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("recording %q has no saved transcription", name)), nil
		}
		s.logger.Error("Failed to read transcription",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := req.GetString("state", "")

	out := []session.Session{}
	for _, sess := range s.sessions.List() {
		if state != "" && string(sess.State) != state {
			continue
		}
		out = append(out, sess)
	}
	return jsonResult(out)
}

func (s *Server) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sess)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
