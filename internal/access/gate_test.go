package access

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/testutil"
)

func seededGate(t *testing.T) *Gate {
	t.Helper()
	db := testutil.TestDB(t)
	ctx := context.Background()
	if err := db.CreateProject(ctx, models.Project{ID: "p1", Name: "Board A", OwnerID: "owner"}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMember(ctx, "p1", "editor", models.RoleEditor); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMember(ctx, "p1", "viewer", models.RoleViewer); err != nil {
		t.Fatal(err)
	}
	if err := db.PutMember(ctx, "p1", "coowner", models.RoleOwner); err != nil {
		t.Fatal(err)
	}
	return NewGate(db, nil, nil)
}

func TestAuthorize(t *testing.T) {
	g := seededGate(t)
	ctx := context.Background()

	tests := []struct {
		actor string
		cap   models.Capability
		want  error
	}{
		{"owner", models.CapRead, nil},
		{"owner", models.CapWrite, nil},
		{"owner", models.CapDelete, nil},
		{"coowner", models.CapWrite, nil},
		{"coowner", models.CapDelete, apperr.ErrForbidden},
		{"editor", models.CapRead, nil},
		{"editor", models.CapWrite, nil},
		{"editor", models.CapDelete, apperr.ErrForbidden},
		{"viewer", models.CapRead, nil},
		{"viewer", models.CapWrite, apperr.ErrForbidden},
		{"viewer", models.CapDelete, apperr.ErrForbidden},
		{"stranger", models.CapRead, apperr.ErrNotFound},
		{"stranger", models.CapWrite, apperr.ErrNotFound},
		{"", models.CapRead, apperr.ErrUnauthenticated},
	}
	for _, tt := range tests {
		err := g.Authorize(ctx, tt.actor, "p1", tt.cap)
		if tt.want == nil && err != nil {
			t.Errorf("%s/%s: unexpected error %v", tt.actor, tt.cap, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s/%s: err = %v, want %v", tt.actor, tt.cap, err, tt.want)
		}
	}
}

func TestAuthorize_MissingProjectLooksLikeNoAccess(t *testing.T) {
	g := seededGate(t)
	err := g.Authorize(context.Background(), "owner", "ghost", models.CapRead)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCapabilities(t *testing.T) {
	g := seededGate(t)
	ctx := context.Background()

	caps, err := g.Capabilities(ctx, "viewer", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !caps.Read || caps.Write || caps.Delete {
		t.Errorf("viewer caps = %+v", caps)
	}
	caps, _ = g.Capabilities(ctx, "owner", "p1")
	if !caps.Read || !caps.Write || !caps.Delete {
		t.Errorf("owner caps = %+v", caps)
	}
}

func TestAuthorize_ReflectsMembershipChanges(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()
	_ = db.CreateProject(ctx, models.Project{ID: "p1", Name: "Board A", OwnerID: "owner"})
	g := NewGate(db, nil, nil)

	if err := g.Authorize(ctx, "u2", "p1", models.CapWrite); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("before grant: %v", err)
	}
	_ = db.PutMember(ctx, "p1", "u2", models.RoleEditor)
	if err := g.Authorize(ctx, "u2", "p1", models.CapWrite); err != nil {
		t.Fatalf("after grant: %v", err)
	}
	_ = db.PutMember(ctx, "p1", "u2", models.RoleViewer)
	if err := g.Authorize(ctx, "u2", "p1", models.CapWrite); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("after downgrade: %v", err)
	}
}
