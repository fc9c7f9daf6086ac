package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/piko/internal/access"
	"github.com/starford/piko/internal/editor"
	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/projectservice"
	"github.com/starford/piko/internal/store"
	"github.com/starford/piko/internal/testutil"
)

func testServer(t *testing.T, actor string) (*Server, *store.DB, *media.Store) {
	t.Helper()
	db := testutil.TestDB(t)
	_, ms := testutil.TestMedia(t)
	svc := projectservice.NewService(db, access.NewGate(db, nil, nil), nil, nil, nil)

	ctx := context.Background()
	if err := db.CreateProject(ctx, models.Project{ID: "board-a", Name: "Board A", OwnerID: "u1"}); err != nil {
		t.Fatal(err)
	}
	_ = db.PutMember(ctx, "board-a", "u2", models.RoleViewer)

	session, err := editor.Open(ctx, svc.As(actor), "board-a", editor.Options{
		Quiet: 20 * time.Millisecond,
		Hold:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(session.Close)
	return New(session, ms, nil), db, ms
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"get_graph":             srv.getGraph,
		"get_canvas_contract":   srv.getCanvasContract,
		"create_node":           srv.createNode,
		"connect":               srv.connect,
		"disconnect":            srv.disconnect,
		"duplicate_node":        srv.duplicateNode,
		"rename_node":           srv.renameNode,
		"delete_node":           srv.deleteNode,
		"move_node":             srv.moveNode,
		"set_prompt_text":       srv.setPromptText,
		"set_generation_params": srv.setGenerationParams,
		"select_media":          srv.selectMedia,
		"set_title":             srv.setTitle,
		"save_status":           srv.saveStatus,
		"flush":                 srv.flush,
		"attach_media":          srv.attachMedia,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func createNode(t *testing.T, srv *Server, kind string, x float64) models.Node {
	t.Helper()
	r := callTool(t, srv, "create_node", map[string]any{"kind": kind, "x": x, "y": 0})
	if r.IsError {
		t.Fatalf("create_node %s: %s", kind, resultText(r))
	}
	var n models.Node
	if err := json.Unmarshal([]byte(resultText(r)), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestBuildAndFlushGraph(t *testing.T) {
	srv, db, _ := testServer(t, "u1")

	prompt := createNode(t, srv, "prompt", 0)
	nano := createNode(t, srv, "nano", 420)

	r := callTool(t, srv, "connect", map[string]any{"source": prompt.ID, "target": nano.ID})
	if r.IsError {
		t.Fatalf("connect: %s", resultText(r))
	}
	r = callTool(t, srv, "set_prompt_text", map[string]any{"id": prompt.ID, "text": "a lighthouse"})
	if r.IsError {
		t.Fatalf("set_prompt_text: %s", resultText(r))
	}
	r = callTool(t, srv, "set_generation_params", map[string]any{"id": nano.ID, "resolution": "2K"})
	if r.IsError || !strings.Contains(resultText(r), `"2K"`) {
		t.Fatalf("set_generation_params: %s", resultText(r))
	}

	if r := callTool(t, srv, "flush", nil); r.IsError {
		t.Fatalf("flush: %s", resultText(r))
	}

	g, err := db.LoadGraph(context.Background(), "board-a", models.CurrentVersion)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Fatalf("stored graph = %d nodes %d edges", len(g.Nodes), len(g.Edges))
	}
	if d, _ := g.Nodes[0].Data.(*models.PromptData); d == nil || d.Text != "a lighthouse" {
		t.Errorf("prompt payload = %#v", g.Nodes[0].Data)
	}
}

func TestGetGraph(t *testing.T) {
	srv, _, _ := testServer(t, "u1")
	createNode(t, srv, "file", 0)

	var v graphView
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "get_graph", nil))), &v); err != nil {
		t.Fatal(err)
	}
	if v.ProjectID != "board-a" || v.Title != "Board A" || !v.CanEdit || len(v.Graph.Nodes) != 1 {
		t.Errorf("view = %+v", v)
	}
}

func TestDeleteCascadesAndMissingNode(t *testing.T) {
	srv, _, _ := testServer(t, "u1")
	a := createNode(t, srv, "prompt", 0)
	b := createNode(t, srv, "nano", 420)
	callTool(t, srv, "connect", map[string]any{"source": a.ID, "target": b.ID})

	if r := callTool(t, srv, "delete_node", map[string]any{"id": a.ID}); r.IsError {
		t.Fatalf("delete_node: %s", resultText(r))
	}
	if len(srv.session.Snapshot().Edges) != 0 {
		t.Error("edge survived node deletion")
	}
	if r := callTool(t, srv, "rename_node", map[string]any{"id": a.ID, "title": "x"}); !r.IsError {
		t.Error("expected error renaming a deleted node")
	}
	if r := callTool(t, srv, "connect", map[string]any{"source": "ghost", "target": b.ID}); !r.IsError {
		t.Error("expected error connecting a missing node")
	}
}

func TestMissingArguments(t *testing.T) {
	srv, _, _ := testServer(t, "u1")
	for _, name := range []string{"create_node", "connect", "rename_node", "move_node", "set_title"} {
		if r := callTool(t, srv, name, map[string]any{}); !r.IsError {
			t.Errorf("%s without arguments should fail", name)
		}
	}
	if r := callTool(t, srv, "create_node", map[string]any{"kind": "video"}); !r.IsError {
		t.Error("unknown kind should fail")
	}
}

func TestViewerIsReadOnly(t *testing.T) {
	srv, _, _ := testServer(t, "u2")

	if r := callTool(t, srv, "create_node", map[string]any{"kind": "prompt"}); !r.IsError {
		t.Error("viewer create_node should fail")
	}
	if r := callTool(t, srv, "set_title", map[string]any{"title": "Mine"}); !r.IsError {
		t.Error("viewer set_title should fail")
	}
	if r := callTool(t, srv, "get_graph", nil); r.IsError {
		t.Errorf("viewer get_graph: %s", resultText(r))
	}
}

func TestSetTitle(t *testing.T) {
	srv, db, _ := testServer(t, "u1")
	if r := callTool(t, srv, "set_title", map[string]any{"title": "  Board A v2 "}); r.IsError {
		t.Fatalf("set_title: %s", resultText(r))
	}
	if r := callTool(t, srv, "flush", nil); r.IsError {
		t.Fatalf("flush: %s", resultText(r))
	}
	p, _ := db.Project(context.Background(), "board-a")
	if p.Name != "Board A v2" {
		t.Errorf("name = %q", p.Name)
	}

	var st statusView
	_ = json.Unmarshal([]byte(resultText(callTool(t, srv, "save_status", nil))), &st)
	if st.Dirty {
		t.Errorf("status = %+v, want clean", st)
	}
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func TestAttachMedia_DataURI(t *testing.T) {
	srv, _, ms := testServer(t, "u1")
	file := createNode(t, srv, "file", 0)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	r := callTool(t, srv, "attach_media", map[string]any{"id": file.ID, "url": uri, "filename": "ref.png"})
	if r.IsError {
		t.Fatalf("attach_media: %s", resultText(r))
	}

	var res attachResult
	_ = json.Unmarshal([]byte(resultText(r)), &res)
	if res.Media.URL != "/attachments/ref.png" {
		t.Errorf("media = %+v", res.Media)
	}
	f, err := ms.Open("ref.png")
	if err != nil {
		t.Fatalf("attachment not stored: %v", err)
	}
	f.Close()

	n, _ := srv.session.Node(file.ID)
	d := n.Data.(*models.FileData)
	if len(d.Files) != 1 || d.ActiveIndex != 0 {
		t.Errorf("file payload = %+v", d)
	}

	if r := callTool(t, srv, "attach_media", map[string]any{"id": file.ID, "url": uri, "filename": "ref.png"}); !r.IsError {
		t.Error("expected error for an existing file name")
	}
}

func TestAttachMedia_Rejects(t *testing.T) {
	srv, _, _ := testServer(t, "u1")
	file := createNode(t, srv, "file", 0)
	prompt := createNode(t, srv, "prompt", 400)
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"loopback", map[string]any{"id": file.ID, "url": "http://127.0.0.1/x.png"}},
		{"bad scheme", map[string]any{"id": file.ID, "url": "ftp://example.com/x.png"}},
		{"wrong magic", map[string]any{"id": file.ID, "url": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not a png at all"))}},
		{"bad extension", map[string]any{"id": file.ID, "url": png, "filename": "x.exe"}},
		{"prompt node", map[string]any{"id": prompt.ID, "url": png, "filename": "p.png"}},
		{"missing node", map[string]any{"id": "ghost", "url": png}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r := callTool(t, srv, "attach_media", tt.args); !r.IsError {
				t.Errorf("expected error, got %s", resultText(r))
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"photo.png":          "photo.png",
		"../../etc/pass.png": "pass.png",
		"my photo (1).jpg":   "my_photo__1_.jpg",
		".hidden.png":        "hidden.png",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
