package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/piko/internal/access"
	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/media"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/projectservice"
	"github.com/starford/piko/internal/sse"
	"github.com/starford/piko/internal/store"
	"github.com/starford/piko/internal/testutil"
)

type testEnv struct {
	db     *store.DB
	router http.Handler
	media  *media.Store
	broker *sse.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.TestDB(t)
	_, ms := testutil.TestMedia(t)
	broker := sse.NewBroker(50*time.Millisecond, nil)
	t.Cleanup(broker.Close)

	svc := projectservice.NewService(db, access.NewGate(db, nil, nil), broker, nil, nil)
	return &testEnv{
		db:     db,
		router: NewRouter(svc, identity.Header{}, broker, ms),
		media:  ms,
		broker: broker,
	}
}

// call issues a JSON request as user (no identity when user is empty).
func (e *testEnv) call(t *testing.T, user, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set(identity.HeaderUserID, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// boardA creates "Board A" owned by u1 and returns its id.
func (e *testEnv) boardA(t *testing.T) string {
	t.Helper()
	w := e.call(t, "u1", http.MethodPost, "/projects", NameRequest{Name: "Board A"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d, body = %s", w.Code, w.Body.String())
	}
	var ref ProjectRef
	_ = json.Unmarshal(w.Body.Bytes(), &ref)
	return ref.ID
}

func sampleGraph() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"id": "prompt-1", "type": "prompt", "position": map[string]float64{"x": 0, "y": 0},
				"data": map[string]any{"title": "Prompt", "text": "a lighthouse"}},
			map[string]any{"id": "nano-1", "type": "nano", "position": map[string]float64{"x": 420, "y": 0}},
		},
		"edges": []any{
			map[string]any{"id": "edge-1", "source": "prompt-1", "target": "nano-1", "markerEnd": "arrowclosed"},
		},
	}
}

func TestUnauthenticated(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	for _, path := range []string{"/projects/" + id, "/projects/" + id + "/graph"} {
		if w := e.call(t, "", http.MethodGet, path, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without identity = %d, want 401", path, w.Code)
		}
	}
}

func TestCreateProject_Validation(t *testing.T) {
	e := newTestEnv(t)
	for _, name := range []string{"", " ", " a "} {
		w := e.call(t, "u1", http.MethodPost, "/projects", NameRequest{Name: name})
		if w.Code != http.StatusBadRequest {
			t.Errorf("name %q = %d, want 400", name, w.Code)
		}
	}
	w := e.call(t, "u1", http.MethodPost, "/projects", NameRequest{Name: "  Board A  "})
	var ref ProjectRef
	_ = json.Unmarshal(w.Body.Bytes(), &ref)
	if w.Code != http.StatusCreated || ref.Name != "Board A" || ref.ID == "" {
		t.Errorf("create = %d %+v", w.Code, ref)
	}
}

func TestNewProjectHasEmptyGraph(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	w := e.call(t, "u1", http.MethodGet, "/projects/"+id+"/graph", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get graph = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"nodes":[],"edges":[]}` {
		t.Errorf("body = %s", w.Body.String())
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}
}

func TestCapabilitiesByRole(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	_ = e.db.PutMember(context.Background(), id, "u2", models.RoleViewer)
	_ = e.db.PutMember(context.Background(), id, "u3", models.RoleEditor)

	tests := []struct {
		user string
		want models.Capabilities
	}{
		{"u1", models.Capabilities{Read: true, Write: true, Delete: true}},
		{"u2", models.Capabilities{Read: true}},
		{"u3", models.Capabilities{Read: true, Write: true}},
	}
	for _, tt := range tests {
		w := e.call(t, tt.user, http.MethodGet, "/projects/"+id, nil)
		var resp ProjectResponse
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if w.Code != http.StatusOK || resp.Capabilities != tt.want {
			t.Errorf("%s: %d %+v, want %+v", tt.user, w.Code, resp.Capabilities, tt.want)
		}
	}
	if w := e.call(t, "u9", http.MethodGet, "/projects/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("stranger = %d, want 404", w.Code)
	}
}

func TestViewerCannotWriteGraph(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	_ = e.db.PutMember(context.Background(), id, "u2", models.RoleViewer)

	if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/graph", sampleGraph()); w.Code != http.StatusOK {
		t.Fatalf("owner put = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.call(t, "u2", http.MethodPut, "/projects/"+id+"/graph", map[string]any{"nodes": []any{}, "edges": []any{}}); w.Code != http.StatusForbidden {
		t.Errorf("viewer put = %d, want 403", w.Code)
	}

	w := e.call(t, "u2", http.MethodGet, "/projects/"+id+"/graph", nil)
	var g models.Graph
	if err := json.Unmarshal(w.Body.Bytes(), &g); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("viewer get = %d, %d nodes %d edges", w.Code, len(g.Nodes), len(g.Edges))
	}
	if nano, ok := g.Nodes[1].Data.(*models.NanoData); !ok || nano.Resolution != "1K" {
		t.Errorf("nano payload = %#v", g.Nodes[1].Data)
	}

	if w := e.call(t, "u2", http.MethodPatch, "/projects/"+id, NameRequest{Name: "x"}); w.Code != http.StatusForbidden {
		t.Errorf("viewer rename = %d, want 403", w.Code)
	}
}

func TestEditorWritesButCannotDelete(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	_ = e.db.PutMember(context.Background(), id, "u3", models.RoleEditor)

	if w := e.call(t, "u3", http.MethodPut, "/projects/"+id+"/graph", sampleGraph()); w.Code != http.StatusOK {
		t.Errorf("editor put = %d", w.Code)
	}
	if w := e.call(t, "u3", http.MethodDelete, "/projects/"+id, nil); w.Code != http.StatusForbidden {
		t.Errorf("editor delete = %d, want 403", w.Code)
	}
	if w := e.call(t, "u3", http.MethodPut, "/projects/"+id+"/members/u4", MemberRequest{Role: models.RoleEditor}); w.Code != http.StatusForbidden {
		t.Errorf("editor grant = %d, want 403", w.Code)
	}
}

func TestPutGraph_Validation(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)

	dangling := map[string]any{
		"nodes": []any{},
		"edges": []any{map[string]any{"id": "e", "source": "a", "target": "b"}},
	}
	unknown := map[string]any{
		"nodes": []any{map[string]any{"id": "v", "type": "video", "position": map[string]float64{"x": 0, "y": 0}}},
		"edges": []any{},
	}
	for name, body := range map[string]any{"dangling": dangling, "unknown kind": unknown} {
		if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/graph", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", name, w.Code)
		}
	}
}

func TestPutGraph_IfMatch(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)

	etag := e.call(t, "u1", http.MethodGet, "/projects/"+id+"/graph", nil).Header().Get("ETag")
	w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/graph", sampleGraph(), "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("matching put = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get("ETag") == etag {
		t.Error("ETag did not change")
	}

	w = e.call(t, "u1", http.MethodPut, "/projects/"+id+"/graph", sampleGraph(), "If-Match", etag)
	if w.Code != http.StatusConflict {
		t.Errorf("stale put = %d, want 409", w.Code)
	}
	if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/graph", sampleGraph()); w.Code != http.StatusOK {
		t.Errorf("put without If-Match = %d, want 200 (last writer wins)", w.Code)
	}
}

func TestRenameAndDelete(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)

	w := e.call(t, "u1", http.MethodPatch, "/projects/"+id, NameRequest{Name: "  Board A v2 "})
	var ref ProjectRef
	_ = json.Unmarshal(w.Body.Bytes(), &ref)
	if w.Code != http.StatusOK || ref.Name != "Board A v2" {
		t.Errorf("rename = %d %+v", w.Code, ref)
	}
	if w := e.call(t, "u1", http.MethodPatch, "/projects/"+id, NameRequest{Name: "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty rename = %d, want 400", w.Code)
	}

	if w := e.call(t, "u1", http.MethodDelete, "/projects/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := e.call(t, "u1", http.MethodGet, "/projects/"+id+"/graph", nil); w.Code != http.StatusNotFound {
		t.Errorf("graph after delete = %d, want 404", w.Code)
	}
	if w := e.call(t, "u1", http.MethodDelete, "/projects/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestMembersGrantAndRevoke(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)

	if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/members/u2", MemberRequest{Role: "ADMIN"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad role = %d, want 400", w.Code)
	}
	if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/members/u2", MemberRequest{Role: models.RoleEditor}); w.Code != http.StatusOK {
		t.Fatalf("grant = %d", w.Code)
	}
	if w := e.call(t, "u2", http.MethodPut, "/projects/"+id+"/graph", sampleGraph()); w.Code != http.StatusOK {
		t.Errorf("granted editor put = %d", w.Code)
	}
	if w := e.call(t, "u1", http.MethodDelete, "/projects/"+id+"/members/u2", nil); w.Code != http.StatusOK {
		t.Fatalf("revoke = %d", w.Code)
	}
	if w := e.call(t, "u2", http.MethodGet, "/projects/"+id+"/graph", nil); w.Code != http.StatusNotFound {
		t.Errorf("revoked read = %d, want 404", w.Code)
	}
}

func TestEvents_ReadersOnly(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	if w := e.call(t, "u9", http.MethodGet, "/projects/"+id+"/events", nil); w.Code != http.StatusNotFound {
		t.Errorf("stranger events = %d, want 404", w.Code)
	}
}

func TestEvents_StreamsGraphSaves(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/projects/"+id+"/events", nil)
	req.Header.Set(identity.HeaderUserID, "u1")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}

	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return e.broker.ClientCount(id) == 1
	}, "stream did not subscribe")

	if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/graph", sampleGraph()); w.Code != http.StatusOK {
		t.Fatalf("put = %d", w.Code)
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(buf[:n]), "event: graph.saved") {
		t.Errorf("stream = %q", buf[:n])
	}
}

func TestEvents_RevokedMemberStreamEnds(t *testing.T) {
	e := newTestEnv(t)
	id := e.boardA(t)
	if w := e.call(t, "u1", http.MethodPut, "/projects/"+id+"/members/u2", MemberRequest{Role: models.RoleViewer}); w.Code != http.StatusOK {
		t.Fatalf("grant = %d", w.Code)
	}
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/projects/"+id+"/events", nil)
	req.Header.Set(identity.HeaderUserID, "u2")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d", resp.StatusCode)
	}
	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return e.broker.ClientCount(id) == 1
	}, "stream did not subscribe")

	if w := e.call(t, "u1", http.MethodDelete, "/projects/"+id+"/members/u2", nil); w.Code != http.StatusOK {
		t.Fatalf("revoke = %d", w.Code)
	}

	// The stream ends on its own once the removal is delivered.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("stream did not end after revocation: %v", err)
	}
	if !strings.Contains(string(body), "event: member.removed") {
		t.Errorf("stream = %q", body)
	}
	if n := e.broker.ClientCount(id); n != 0 {
		t.Errorf("clients = %d after revocation", n)
	}
}

func uploadFile(t *testing.T, router http.Handler, user, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set(identity.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeAttachment(t *testing.T) {
	e := newTestEnv(t)

	w := uploadFile(t, e.router, "u1", "test.png", []byte("fake-png-data"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var resp UploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Filename != "test.png" || resp.URL != "/attachments/test.png" {
		t.Errorf("resp = %+v", resp)
	}

	data, err := os.ReadFile(filepath.Join(e.media.Root(), "test.png"))
	if err != nil {
		t.Fatalf("file not on disk: %v", err)
	}
	if string(data) != "fake-png-data" {
		t.Errorf("content mismatch")
	}

	r := chi.NewRouter()
	r.Get("/attachments/{filename}", NewAttachmentHandler(e.media).ServeFile)
	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/attachments/test.png", nil))
	if get.Code != http.StatusOK || get.Body.String() != "fake-png-data" {
		t.Errorf("serve = %d %q", get.Code, get.Body.String())
	}
}

func TestServeAttachment_NotFoundAndTraversal(t *testing.T) {
	_, ms := testutil.TestMedia(t)
	r := chi.NewRouter()
	r.Get("/attachments/{filename}", NewAttachmentHandler(ms).ServeFile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/attachments/nope.png", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing attachment = %d, want 404", w.Code)
	}
	for _, name := range []string{"../secret.md", "../../etc/passwd", ".hidden"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/attachments/"+name, nil))
		if w.Code == http.StatusOK {
			t.Errorf("traversal %q should not return 200", name)
		}
	}
}

func TestUploadAttachment_AuthAndMissingField(t *testing.T) {
	e := newTestEnv(t)
	if w := uploadFile(t, e.router, "", "x.png", []byte("data")); w.Code != http.StatusUnauthorized {
		t.Errorf("upload no identity = %d, want 401", w.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(identity.HeaderUserID, "u1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}
