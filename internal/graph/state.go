// Package graph holds the in-memory node and edge collections of one editing
// session and the mutation operations the canvas performs on them.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/starford/piko/internal/apperr"
	"github.com/starford/piko/internal/models"
)

// errUnchanged lets a mutation report success without firing the dirty hook.
var errUnchanged = errors.New("graph: unchanged")

// DuplicateOffset is how far a duplicated node is shifted from its source.
var DuplicateOffset = models.Position{X: 36, Y: 36}

// Loader fetches the persisted graph during hydration.
type Loader func(ctx context.Context) (models.Graph, error)

// Options configure a State.
type Options struct {
	// Writable enables mutations. A read-only state still hydrates.
	Writable bool
	// OnDirty runs after every successful mutation, outside the lock.
	OnDirty func()
	// NewNodeID and NewEdgeID override identifier generation.
	NewNodeID func(models.NodeKind) string
	NewEdgeID func() string
}

// State is the graph of one session. All methods are safe for concurrent use;
// each mutation is applied atomically with respect to Snapshot.
type State struct {
	mu       sync.Mutex
	nodes    []models.Node
	edges    []models.Edge
	hydrated bool
	writable bool

	onDirty   func()
	newNodeID func(models.NodeKind) string
	newEdgeID func() string
}

// New creates an empty, unhydrated state.
func New(opts Options) *State {
	s := &State{
		nodes:     []models.Node{},
		edges:     []models.Edge{},
		writable:  opts.Writable,
		onDirty:   opts.OnDirty,
		newNodeID: opts.NewNodeID,
		newEdgeID: opts.NewEdgeID,
	}
	if s.newNodeID == nil {
		s.newNodeID = models.NewNodeID
	}
	if s.newEdgeID == nil {
		s.newEdgeID = models.NewEdgeID
	}
	return s
}

// SetOnDirty replaces the dirty hook. Used when the hook's owner is built
// after the state.
func (s *State) SetOnDirty(fn func()) {
	s.mu.Lock()
	s.onDirty = fn
	s.mu.Unlock()
}

// Hydrate loads the persisted graph exactly once. If load fails the state
// becomes an empty hydrated graph and the load error is returned, so the
// session stays usable. A second call returns apperr.ErrAlreadyHydrated.
func (s *State) Hydrate(ctx context.Context, load Loader) error {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return apperr.ErrAlreadyHydrated
	}
	s.mu.Unlock()

	g, loadErr := load(ctx)
	if loadErr != nil {
		g = models.EmptyGraph()
	}
	g = g.Normalize().Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated {
		return apperr.ErrAlreadyHydrated
	}
	s.nodes, s.edges = g.Nodes, g.Edges
	s.hydrated = true
	if loadErr != nil {
		return fmt.Errorf("graph: hydrate: %w", loadErr)
	}
	return nil
}

// Hydrated reports whether Hydrate has completed.
func (s *State) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// Writable reports whether mutations are allowed.
func (s *State) Writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writable
}

// Snapshot returns a deep copy of the current graph.
func (s *State) Snapshot() models.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Graph{Nodes: s.nodes, Edges: s.edges}.Clone()
}

// Node returns a copy of the node with the given id.
func (s *State) Node(id string) (models.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.nodeIndex(id)
	if i < 0 {
		return models.Node{}, false
	}
	return s.nodes[i].Clone(), true
}

// CreateNode appends a node of kind at pos with the kind's default payload.
func (s *State) CreateNode(kind models.NodeKind, pos models.Position) (models.Node, error) {
	var created models.Node
	err := s.mutate(func() error {
		data, style, err := models.DefaultNode(kind)
		if err != nil {
			return err
		}
		created = models.Node{
			ID:       s.newNodeID(kind),
			Kind:     kind,
			Position: pos,
			Data:     data,
			Style:    style,
		}
		s.nodes = append(s.nodes, created)
		created = created.Clone()
		return nil
	})
	return created, err
}

// Connect appends an edge from source to target. Both nodes must exist. An
// identical connection already present is returned as is and schedules no save.
func (s *State) Connect(source, sourceHandle, target, targetHandle string) (models.Edge, error) {
	var edge models.Edge
	err := s.mutate(func() error {
		if s.nodeIndex(source) < 0 {
			return fmt.Errorf("%w: source node %q", apperr.ErrNotFound, source)
		}
		if s.nodeIndex(target) < 0 {
			return fmt.Errorf("%w: target node %q", apperr.ErrNotFound, target)
		}
		edge = models.Edge{
			Source:       source,
			SourceHandle: sourceHandle,
			Target:       target,
			TargetHandle: targetHandle,
			MarkerEnd:    models.DefaultMarker,
		}
		for _, e := range s.edges {
			if e.SameConnection(edge) {
				edge = e
				return errUnchanged
			}
		}
		edge.ID = s.newEdgeID()
		s.edges = append(s.edges, edge)
		return nil
	})
	return edge, err
}

// Disconnect removes one edge.
func (s *State) Disconnect(edgeID string) error {
	return s.mutate(func() error {
		for i, e := range s.edges {
			if e.ID == edgeID {
				s.edges = append(s.edges[:i], s.edges[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: edge %q", apperr.ErrNotFound, edgeID)
	})
}

// DuplicateNode appends a copy of id with a fresh identifier, shifted by
// DuplicateOffset.
func (s *State) DuplicateNode(id string) (models.Node, error) {
	var dup models.Node
	err := s.mutate(func() error {
		i := s.nodeIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: node %q", apperr.ErrNotFound, id)
		}
		dup = s.nodes[i].Clone()
		dup.ID = s.newNodeID(dup.Kind)
		dup.Position = dup.Position.Add(DuplicateOffset)
		s.nodes = append(s.nodes, dup)
		dup = dup.Clone()
		return nil
	})
	return dup, err
}

// RenameNode sets the node's title. The title is trimmed and must not be empty.
func (s *State) RenameNode(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title must not be empty", apperr.ErrValidation)
	}
	return s.edit(id, func(n *models.Node) error {
		models.SetTitle(n.Data, title)
		return nil
	})
}

// DeleteNode removes the node and every edge touching it.
func (s *State) DeleteNode(id string) error {
	return s.mutate(func() error {
		i := s.nodeIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: node %q", apperr.ErrNotFound, id)
		}
		s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
		kept := s.edges[:0]
		for _, e := range s.edges {
			if !e.Touches(id) {
				kept = append(kept, e)
			}
		}
		s.edges = kept
		return nil
	})
}

// MoveNode sets the node's position.
func (s *State) MoveNode(id string, pos models.Position) error {
	return s.edit(id, func(n *models.Node) error {
		n.Position = pos
		return nil
	})
}

// SetPromptText replaces the text of a prompt node.
func (s *State) SetPromptText(id, text string) error {
	return s.edit(id, func(n *models.Node) error {
		d, ok := n.Data.(*models.PromptData)
		if !ok {
			return wrongKind(n, models.KindPrompt)
		}
		d.Text = text
		return nil
	})
}

// AddMedia appends a media reference to a file or nano node and makes it active.
func (s *State) AddMedia(id string, ref models.MediaRef) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return s.edit(id, func(n *models.Node) error {
		switch d := n.Data.(type) {
		case *models.FileData:
			d.Files = append(d.Files, ref)
			d.ActiveIndex = len(d.Files) - 1
		case *models.NanoData:
			d.Images = append(d.Images, ref)
			d.ActiveIndex = len(d.Images) - 1
		default:
			return fmt.Errorf("%w: node %q of kind %q holds no media", apperr.ErrValidation, n.ID, n.Kind)
		}
		return nil
	})
}

// SelectMedia sets the active media index, clamped to the available range.
func (s *State) SelectMedia(id string, index int) error {
	return s.edit(id, func(n *models.Node) error {
		switch d := n.Data.(type) {
		case *models.FileData:
			d.ActiveIndex = clamp(index, len(d.Files))
		case *models.NanoData:
			d.ActiveIndex = clamp(index, len(d.Images))
		default:
			return fmt.Errorf("%w: node %q of kind %q holds no media", apperr.ErrValidation, n.ID, n.Kind)
		}
		return nil
	})
}

// SetGenerationParams updates resolution and aspect of a nano node. Empty
// values leave the current setting.
func (s *State) SetGenerationParams(id, resolution, aspect string) error {
	return s.edit(id, func(n *models.Node) error {
		d, ok := n.Data.(*models.NanoData)
		if !ok {
			return wrongKind(n, models.KindNano)
		}
		next := *d
		if resolution != "" {
			next.Resolution = resolution
		}
		if aspect != "" {
			next.Aspect = aspect
		}
		if err := next.Validate(); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
		}
		*d = next
		return nil
	})
}

// Replace swaps the whole graph for g after validating it.
func (s *State) Replace(g models.Graph) error {
	g = g.Normalize()
	if err := g.Validate(); err != nil {
		return err
	}
	g = g.Clone()
	return s.mutate(func() error {
		s.nodes, s.edges = g.Nodes, g.Edges
		return nil
	})
}

// edit runs fn on a scratch copy of node id and commits it only if fn succeeds.
func (s *State) edit(id string, fn func(n *models.Node) error) error {
	return s.mutate(func() error {
		i := s.nodeIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: node %q", apperr.ErrNotFound, id)
		}
		n := s.nodes[i].Clone()
		if err := fn(&n); err != nil {
			return err
		}
		s.nodes[i] = n
		return nil
	})
}

// mutate applies fn under the lock after the hydration and write checks,
// then fires the dirty hook once the lock is released.
func (s *State) mutate(fn func() error) error {
	s.mu.Lock()
	if !s.hydrated {
		s.mu.Unlock()
		return apperr.ErrNotHydrated
	}
	if !s.writable {
		s.mu.Unlock()
		return apperr.ErrForbidden
	}
	err := fn()
	hook := s.onDirty
	s.mu.Unlock()

	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (s *State) nodeIndex(id string) int {
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func wrongKind(n *models.Node, want models.NodeKind) error {
	return fmt.Errorf("%w: node %q is %q, not %q", apperr.ErrValidation, n.ID, n.Kind, want)
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
