package models

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/piko/internal/apperr"
)

// DefaultMarker is the arrow hint attached to new edges.
const DefaultMarker = "arrowclosed"

// Position is a point on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p shifted by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

// Style holds optional rendering hints.
type Style struct {
	Width int `json:"width,omitempty"`
}

// Node is a typed unit of work on the canvas.
type Node struct {
	ID       string
	Kind     NodeKind
	Position Position
	Data     NodeData
	Style    *Style
}

// Title returns the node's display title.
func (n Node) Title() string {
	if n.Data == nil {
		return ""
	}
	return n.Data.title()
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	if n.Data != nil {
		out.Data = n.Data.clone()
	}
	if n.Style != nil {
		s := *n.Style
		out.Style = &s
	}
	return out
}

// Validate checks the node and its payload.
func (n Node) Validate() error {
	if err := validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Kind, validation.Required, validation.In(KindPrompt, KindFile, KindNano)),
		validation.Field(&n.Data, validation.NotNil),
	); err != nil {
		return err
	}
	if n.Data.Kind() != n.Kind {
		return fmt.Errorf("data: payload of kind %q on %q node", n.Data.Kind(), n.Kind)
	}
	if n.Style != nil && n.Style.Width < 0 {
		return fmt.Errorf("style: width must not be negative")
	}
	return n.Data.Validate()
}

type nodeWire struct {
	ID       string          `json:"id"`
	Type     NodeKind        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
	Style    *Style          `json:"style,omitempty"`
}

// MarshalJSON writes the canvas wire format: {id, type, position, data, style}.
func (n Node) MarshalJSON() ([]byte, error) {
	w := nodeWire{ID: n.ID, Type: n.Kind, Position: n.Position, Style: n.Style}
	if n.Data != nil {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the payload according to the node type. Unknown types
// are rejected; a missing payload gets the kind's defaults.
func (n *Node) UnmarshalJSON(b []byte) error {
	var w nodeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data, err := decodeNodeData(w.Type, w.Data)
	if err != nil {
		return fmt.Errorf("node %q: %w", w.ID, err)
	}
	*n = Node{ID: w.ID, Kind: w.Type, Position: w.Position, Data: data, Style: w.Style}
	return nil
}

// Edge connects a source node's output to a target node's input.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
	MarkerEnd    string `json:"markerEnd,omitempty"`
}

// Touches reports whether either endpoint is nodeID.
func (e Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// SameConnection reports whether e and o join the same ports.
func (e Edge) SameConnection(o Edge) bool {
	return e.Source == o.Source && e.SourceHandle == o.SourceHandle &&
		e.Target == o.Target && e.TargetHandle == o.TargetHandle
}

// Validate checks the edge's own fields. Endpoint existence is a graph-level check.
func (e Edge) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.Source, validation.Required),
		validation.Field(&e.Target, validation.Required),
	)
}

// Graph is the full node and edge set of one project version.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EmptyGraph returns a graph with non-nil empty collections.
func EmptyGraph() Graph {
	return Graph{Nodes: []Node{}, Edges: []Edge{}}
}

// Normalize replaces nil collections with empty ones so the graph encodes as [] not null.
func (g Graph) Normalize() Graph {
	if g.Nodes == nil {
		g.Nodes = []Node{}
	}
	if g.Edges == nil {
		g.Edges = []Edge{}
	}
	return g
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := Graph{Nodes: make([]Node, len(g.Nodes)), Edges: make([]Edge, len(g.Edges))}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Edges, g.Edges)
	return out
}

// Validate checks every node and edge, id uniqueness, and that no edge dangles.
// All failures wrap apperr.ErrValidation.
func (g Graph) Validate() error {
	nodes := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%w: node %q: %v", apperr.ErrValidation, n.ID, err)
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", apperr.ErrValidation, n.ID)
		}
		nodes[n.ID] = struct{}{}
	}
	edges := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: edge %q: %v", apperr.ErrValidation, e.ID, err)
		}
		if _, dup := edges[e.ID]; dup {
			return fmt.Errorf("%w: duplicate edge id %q", apperr.ErrValidation, e.ID)
		}
		edges[e.ID] = struct{}{}
		if _, ok := nodes[e.Source]; !ok {
			return fmt.Errorf("%w: edge %q source %q not in graph", apperr.ErrValidation, e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return fmt.Errorf("%w: edge %q target %q not in graph", apperr.ErrValidation, e.ID, e.Target)
		}
	}
	return nil
}

// NewNodeID returns a fresh "<kind>-<uuid>" identifier.
func NewNodeID(kind NodeKind) string {
	return string(kind) + "-" + uuid.NewString()
}

// NewEdgeID returns a fresh edge identifier.
func NewEdgeID() string {
	return "edge-" + uuid.NewString()
}
