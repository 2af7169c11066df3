package event

import "strings"

// Kind identifies the kind of a domain event. Kind values are single tokens
// so they can form the last segment of a log subject.
type Kind string

// Graph lifecycle events.
const (
	// KindGraphCreated records the creation of a graph aggregate.
	KindGraphCreated Kind = "graph_created"
	// KindGraphDeleted records the deletion of a graph aggregate.
	KindGraphDeleted Kind = "graph_deleted"
	// KindGraphRenamed records a graph name change.
	KindGraphRenamed Kind = "graph_renamed"
	// KindGraphTagged records a tag added to a graph.
	KindGraphTagged Kind = "graph_tagged"
	// KindGraphUntagged records a tag removed from a graph.
	KindGraphUntagged Kind = "graph_untagged"
)

// Node events.
const (
	// KindNodeAdded records a node placed in a graph.
	KindNodeAdded Kind = "node_added"
	// KindNodeRemoved records a node removed from a graph.
	KindNodeRemoved Kind = "node_removed"
	// KindNodeMoved records a node position change.
	KindNodeMoved Kind = "node_moved"
)

// Edge events.
const (
	// KindEdgeConnected records an edge connecting two nodes.
	KindEdgeConnected Kind = "edge_connected"
	// KindEdgeDisconnected records an edge removed from a graph.
	KindEdgeDisconnected Kind = "edge_disconnected"
)

// IsValid reports whether the kind is usable as a subject token.
func (k Kind) IsValid() bool {
	s := strings.TrimSpace(string(k))
	return s != "" && !strings.ContainsAny(s, ". *>")
}

// Payload is the sealed interface implemented by every domain event kind.
// The unexported method keeps the set closed to this package.
type Payload interface {
	// Kind returns the stable discriminant for the event.
	Kind() Kind
	// AggregateID returns the id of the graph aggregate the event belongs to.
	AggregateID() string

	domainEvent()
}

// Position locates a node in the editor's 3D space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GraphMetadata carries the descriptive fields of a graph aggregate.
type GraphMetadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// GraphCreated is emitted when a new graph aggregate is created.
type GraphCreated struct {
	GraphID  string        `json:"graph_id"`
	Metadata GraphMetadata `json:"metadata"`
}

// GraphDeleted is emitted when a graph aggregate is deleted.
type GraphDeleted struct {
	GraphID string `json:"graph_id"`
}

// GraphRenamed is emitted when a graph's display name changes.
type GraphRenamed struct {
	GraphID string `json:"graph_id"`
	OldName string `json:"old_name,omitempty"`
	NewName string `json:"new_name"`
}

// GraphTagged is emitted when a tag is attached to a graph.
type GraphTagged struct {
	GraphID string `json:"graph_id"`
	Tag     string `json:"tag"`
}

// GraphUntagged is emitted when a tag is detached from a graph.
type GraphUntagged struct {
	GraphID string `json:"graph_id"`
	Tag     string `json:"tag"`
}

// NodeAdded is emitted when a node is placed in a graph.
type NodeAdded struct {
	GraphID  string   `json:"graph_id"`
	NodeID   string   `json:"node_id"`
	Label    string   `json:"label,omitempty"`
	Position Position `json:"position"`
}

// NodeRemoved is emitted when a node is removed from a graph.
type NodeRemoved struct {
	GraphID string `json:"graph_id"`
	NodeID  string `json:"node_id"`
}

// NodeMoved is emitted when a node changes position.
type NodeMoved struct {
	GraphID string   `json:"graph_id"`
	NodeID  string   `json:"node_id"`
	From    Position `json:"from"`
	To      Position `json:"to"`
}

// EdgeConnected is emitted when an edge connects two nodes.
type EdgeConnected struct {
	GraphID      string `json:"graph_id"`
	EdgeID       string `json:"edge_id"`
	SourceID     string `json:"source_id"`
	TargetID     string `json:"target_id"`
	Relationship string `json:"relationship,omitempty"`
}

// EdgeDisconnected is emitted when an edge is removed from a graph.
type EdgeDisconnected struct {
	GraphID string `json:"graph_id"`
	EdgeID  string `json:"edge_id"`
}

func (e GraphCreated) Kind() Kind     { return KindGraphCreated }
func (e GraphDeleted) Kind() Kind     { return KindGraphDeleted }
func (e GraphRenamed) Kind() Kind     { return KindGraphRenamed }
func (e GraphTagged) Kind() Kind      { return KindGraphTagged }
func (e GraphUntagged) Kind() Kind    { return KindGraphUntagged }
func (e NodeAdded) Kind() Kind        { return KindNodeAdded }
func (e NodeRemoved) Kind() Kind      { return KindNodeRemoved }
func (e NodeMoved) Kind() Kind        { return KindNodeMoved }
func (e EdgeConnected) Kind() Kind    { return KindEdgeConnected }
func (e EdgeDisconnected) Kind() Kind { return KindEdgeDisconnected }

func (e GraphCreated) AggregateID() string     { return e.GraphID }
func (e GraphDeleted) AggregateID() string     { return e.GraphID }
func (e GraphRenamed) AggregateID() string     { return e.GraphID }
func (e GraphTagged) AggregateID() string      { return e.GraphID }
func (e GraphUntagged) AggregateID() string    { return e.GraphID }
func (e NodeAdded) AggregateID() string        { return e.GraphID }
func (e NodeRemoved) AggregateID() string      { return e.GraphID }
func (e NodeMoved) AggregateID() string        { return e.GraphID }
func (e EdgeConnected) AggregateID() string    { return e.GraphID }
func (e EdgeDisconnected) AggregateID() string { return e.GraphID }

func (GraphCreated) domainEvent()     {}
func (GraphDeleted) domainEvent()     {}
func (GraphRenamed) domainEvent()     {}
func (GraphTagged) domainEvent()      {}
func (GraphUntagged) domainEvent()    {}
func (NodeAdded) domainEvent()        {}
func (NodeRemoved) domainEvent()      {}
func (NodeMoved) domainEvent()        {}
func (EdgeConnected) domainEvent()    {}
func (EdgeDisconnected) domainEvent() {}
