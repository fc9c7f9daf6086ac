package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/piko/internal/access"
	"github.com/starford/piko/internal/api"
	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/editor"
	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/projectservice"
	"github.com/starford/piko/internal/store"
	"github.com/starford/piko/internal/testutil"
)

func newServer(t *testing.T) (*httptest.Server, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	svc := projectservice.NewService(db, access.NewGate(db, nil, nil), nil, nil, nil)

	r := chi.NewRouter()
	r.Mount("/api", api.NewRouter(svc, identity.Header{}, nil, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, db
}

func TestClient_ProjectLifecycle(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	owner := New(srv.URL, WithUser("u1"))

	if _, err := owner.CreateProject(ctx, "x"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("short name = %v, want ErrValidation", err)
	}
	p, err := owner.CreateProject(ctx, "Board A")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	view, err := owner.Project(ctx, p.ID)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if view.Name != "Board A" || !view.Capabilities.Delete {
		t.Errorf("view = %+v", view)
	}

	if err := owner.PutMember(ctx, p.ID, "u2", models.RoleViewer); err != nil {
		t.Fatalf("PutMember: %v", err)
	}
	viewer := New(srv.URL, WithUser("u2"))
	if err := viewer.SaveGraph(ctx, p.ID, models.EmptyGraph()); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("viewer save = %v, want ErrForbidden", err)
	}
	if err := viewer.DeleteProject(ctx, p.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("viewer delete = %v, want ErrForbidden", err)
	}
	if _, err := New(srv.URL, WithUser("u9")).Project(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stranger = %v, want ErrNotFound", err)
	}
	if _, err := New(srv.URL).Project(ctx, p.ID); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("anonymous = %v, want ErrUnauthenticated", err)
	}

	if err := owner.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := owner.LoadGraph(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("load after delete = %v, want ErrNotFound", err)
	}
}

func TestClient_IfMatch(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	c := New(srv.URL, WithUser("u1"))
	p, _ := c.CreateProject(ctx, "Board A")

	_, tag, err := c.LoadGraphTagged(ctx, p.ID)
	if err != nil || tag == "" {
		t.Fatalf("LoadGraphTagged = %q, %v", tag, err)
	}
	g := models.Graph{Nodes: []models.Node{{ID: "prompt-1", Kind: models.KindPrompt, Data: &models.PromptData{Title: "Prompt"}}}}
	next, err := c.SaveGraphIfMatch(ctx, p.ID, g, tag)
	if err != nil {
		t.Fatalf("SaveGraphIfMatch: %v", err)
	}
	if next == tag {
		t.Error("tag did not change")
	}
	if _, err := c.SaveGraphIfMatch(ctx, p.ID, models.EmptyGraph(), tag); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale save = %v, want ErrConflict", err)
	}
}

func TestClient_CancelledIsAborted(t *testing.T) {
	srv, _ := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(srv.URL, WithUser("u1")).Project(ctx, "any")
	if !errors.Is(err, apperr.ErrTransportAborted) {
		t.Errorf("err = %v, want ErrTransportAborted", err)
	}
}

func TestClient_UnreachableIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, WithUser("u1")).Project(context.Background(), "any")
	if !errors.Is(err, apperr.ErrTransportFailed) {
		t.Errorf("err = %v, want ErrTransportFailed", err)
	}
}

// Board A end to end: an owner edits through an HTTP-backed session, a
// viewer opens the same project read-only and sees the result.
func TestClient_EditorSessionOverHTTP(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	owner := New(srv.URL, WithUser("u1"))
	p, err := owner.CreateProject(ctx, "Board A")
	if err != nil {
		t.Fatal(err)
	}
	_ = owner.PutMember(ctx, p.ID, "u2", models.RoleViewer)

	opts := editor.Options{Quiet: 30 * time.Millisecond, Hold: 30 * time.Millisecond}
	s, err := editor.Open(ctx, owner, p.ID, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	prompt, err := s.CreateNode(models.KindPrompt, models.Position{})
	if err != nil {
		t.Fatal(err)
	}
	nano, _ := s.CreateNode(models.KindNano, models.Position{X: 420})
	if _, err := s.Connect(prompt.ID, "", nano.ID, ""); err != nil {
		t.Fatal(err)
	}
	_ = s.SetPromptText(prompt.ID, "a lighthouse in fog")
	_ = s.SetTitle("Board A v2")

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		g, err := owner.LoadGraph(ctx, p.ID)
		if err != nil || len(g.Nodes) != 2 || len(g.Edges) != 1 {
			return false
		}
		v, err := owner.Project(ctx, p.ID)
		return err == nil && v.Name == "Board A v2"
	}, "edits were not persisted")

	vs, err := editor.Open(ctx, New(srv.URL, WithUser("u2")), p.ID, opts)
	if err != nil {
		t.Fatalf("viewer Open: %v", err)
	}
	defer vs.Close()
	if vs.CanEdit() {
		t.Error("viewer session should be read-only")
	}
	got, ok := vs.Node(prompt.ID)
	if !ok {
		t.Fatal("viewer does not see the prompt node")
	}
	if d, _ := got.Data.(*models.PromptData); d == nil || d.Text != "a lighthouse in fog" {
		t.Errorf("prompt data = %#v", got.Data)
	}
	if _, err := vs.CreateNode(models.KindFile, models.Position{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("viewer edit = %v, want ErrForbidden", err)
	}
}
