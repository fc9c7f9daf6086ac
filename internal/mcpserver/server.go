// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes one open canvas to LLM tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/piko/internal/editor"
	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/models"
)

// Server wraps the MCP server with canvas tools bound to one editing session.
type Server struct {
	mcp     *server.MCPServer
	session *editor.Session
	media   *media.Store
	logger  *slog.Logger
}

// New creates an MCP server over session. ms may be nil, which leaves
// attach_media unregistered.
func New(session *editor.Session, ms *media.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{session: session, media: ms, logger: logger}

	s.mcp = server.NewMCPServer(
		"Piko",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Return the open canvas: title, save status, nodes and edges."),
	), s.getGraph)

	s.mcp.AddTool(mcp.NewTool("get_canvas_contract",
		mcp.WithDescription("Returns the canvas format contract. "+
			"Call this before editing to learn node kinds and their fields."),
	), s.getCanvasContract)

	s.mcp.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Add a node with the default payload of its kind."),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("prompt", "file", "nano"), mcp.Description("Node kind")),
		mcp.WithNumber("x", mcp.Description("Canvas x position")),
		mcp.WithNumber("y", mcp.Description("Canvas y position")),
	), s.createNode)

	s.mcp.AddTool(mcp.NewTool("connect",
		mcp.WithDescription("Connect two nodes with a directed edge (source feeds target)."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source node id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target node id")),
	), s.connect)

	s.mcp.AddTool(mcp.NewTool("disconnect",
		mcp.WithDescription("Remove an edge."),
		mcp.WithString("edge_id", mcp.Required(), mcp.Description("Edge id")),
	), s.disconnect)

	s.mcp.AddTool(mcp.NewTool("duplicate_node",
		mcp.WithDescription("Copy a node next to the original. Edges are not copied."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
	), s.duplicateNode)

	s.mcp.AddTool(mcp.NewTool("rename_node",
		mcp.WithDescription("Set the display title of a node."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.renameNode)

	s.mcp.AddTool(mcp.NewTool("delete_node",
		mcp.WithDescription("Delete a node and every edge touching it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
	), s.deleteNode)

	s.mcp.AddTool(mcp.NewTool("move_node",
		mcp.WithDescription("Move a node to a new canvas position."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node id")),
		mcp.WithNumber("x", mcp.Required()),
		mcp.WithNumber("y", mcp.Required()),
	), s.moveNode)

	s.mcp.AddTool(mcp.NewTool("set_prompt_text",
		mcp.WithDescription("Replace the text of a prompt node."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Prompt node id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Prompt text")),
	), s.setPromptText)

	s.mcp.AddTool(mcp.NewTool("set_generation_params",
		mcp.WithDescription("Set resolution and aspect ratio of a nano node. Omitted values are kept."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Nano node id")),
		mcp.WithString("resolution", mcp.Enum("1K", "2K", "4K")),
		mcp.WithString("aspect", mcp.Enum("1:1", "4:3", "3:4", "16:9", "9:16")),
	), s.setGenerationParams)

	s.mcp.AddTool(mcp.NewTool("select_media",
		mcp.WithDescription("Choose which attached file or generated image a node shows."),
		mcp.WithString("id", mcp.Required(), mcp.Description("File or nano node id")),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("Zero-based media index")),
	), s.selectMedia)

	s.mcp.AddTool(mcp.NewTool("set_title",
		mcp.WithDescription("Rename the project. Empty or unchanged titles are not saved."),
		mcp.WithString("title", mcp.Required()),
	), s.setTitle)

	s.mcp.AddTool(mcp.NewTool("save_status",
		mcp.WithDescription("Report the save status of the graph and the title."),
	), s.saveStatus)

	s.mcp.AddTool(mcp.NewTool("flush",
		mcp.WithDescription("Save pending changes now instead of waiting for the quiet window."),
	), s.flush)

	if ms != nil {
		s.mcp.AddTool(mcp.NewTool("attach_media",
			mcp.WithDescription("Download an image (http(s) URL or base64 data URI) into the media "+
				"directory and attach it to a file or nano node."),
			mcp.WithString("id", mcp.Required(), mcp.Description("File or nano node id")),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI")),
			mcp.WithString("filename", mcp.Description("Optional file name to store under")),
		), s.attachMedia)
	}

	s.mcp.AddResource(
		mcp.NewResource("piko://canvas-format", "Canvas Format Contract",
			mcp.WithResourceDescription("Node kinds, payload fields and edge rules of a Piko canvas."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCanvasFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type graphView struct {
	ProjectID   string       `json:"projectId"`
	Title       string       `json:"title"`
	CanEdit     bool         `json:"canEdit"`
	GraphStatus string       `json:"graphStatus"`
	TitleStatus string       `json:"titleStatus"`
	Graph       models.Graph `json:"graph"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getGraph(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(graphView{
		ProjectID:   s.session.ProjectID(),
		Title:       s.session.Title(),
		CanEdit:     s.session.CanEdit(),
		GraphStatus: string(s.session.GraphStatus()),
		TitleStatus: string(s.session.TitleStatus()),
		Graph:       s.session.Snapshot(),
	})
}

func (s *Server) getCanvasContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CanvasFormatContract), nil
}

func (s *Server) readCanvasFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "piko://canvas-format",
			MIMEType: "text/markdown",
			Text:     CanvasFormatContract,
		},
	}, nil
}

func (s *Server) createNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pos := models.Position{X: req.GetFloat("x", 0), Y: req.GetFloat("y", 0)}
	n, err := s.session.CreateNode(models.NodeKind(kind), pos)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(n)
}

func (s *Server) connect(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.session.Connect(source, "", target, "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(e)
}

func (s *Server) disconnect(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("edge_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.Disconnect(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("disconnected: %s", id)), nil
}

func (s *Server) duplicateNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.session.DuplicateNode(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(n)
}

func (s *Server) renameNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.RenameNode(id, title); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed: %s", id)), nil
}

func (s *Server) deleteNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.DeleteNode(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) moveNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	x, err := req.RequireFloat("x")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	y, err := req.RequireFloat("y")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.MoveNode(id, models.Position{X: x, Y: y}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved: %s", id)), nil
}

func (s *Server) setPromptText(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.SetPromptText(id, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", id)), nil
}

func (s *Server) setGenerationParams(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	err = s.session.SetGenerationParams(id, req.GetString("resolution", ""), req.GetString("aspect", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, _ := s.session.Node(id)
	return jsonResult(n)
}

func (s *Server) selectMedia(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	index, err := req.RequireInt("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.SelectMedia(id, index); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, _ := s.session.Node(id)
	return jsonResult(n)
}

func (s *Server) setTitle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.session.SetTitle(title); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("title queued"), nil
}

type statusView struct {
	Graph      string `json:"graph"`
	Title      string `json:"title"`
	Dirty      bool   `json:"dirty"`
	GraphError string `json:"graphError,omitempty"`
}

func (s *Server) saveStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	v := statusView{
		Graph: string(s.session.GraphStatus()),
		Title: string(s.session.TitleStatus()),
		Dirty: s.session.Dirty(),
	}
	if err := s.session.GraphError(); err != nil {
		v.GraphError = err.Error()
	}
	return jsonResult(v)
}

func (s *Server) flush(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.session.Flush(ctx); err != nil {
		s.logger.Warn("mcp: flush failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("saved"), nil
}
