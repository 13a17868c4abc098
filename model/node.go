package model

import "strings"

// DefaultArea is the area assumed for nodes that do not declare one.
const DefaultArea = 100.0

// NodeType tags the role a zone plays in a facility.
type NodeType string

const (
	NodeEntrance   NodeType = "entrance"
	NodeCheckpoint NodeType = "checkpoint"
	NodeHall       NodeType = "hall"
	NodeCorridor   NodeType = "corridor"
	NodeGate       NodeType = "gate"
	NodeConcourse  NodeType = "concourse"
	NodeExit       NodeType = "exit"
	NodeDefault    NodeType = "default"
)

// ParseNodeType maps a free-form tag onto a NodeType. Unknown and empty
// tags become NodeDefault.
func ParseNodeType(s string) NodeType {
	switch t := NodeType(strings.ToLower(strings.TrimSpace(s))); t {
	case NodeEntrance, NodeCheckpoint, NodeHall, NodeCorridor, NodeGate, NodeConcourse, NodeExit:
		return t
	default:
		return NodeDefault
	}
}

// Position is optional 2D layout metadata for renderers. The simulation
// kernel never reads it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a walkable zone of a facility. Nodes are immutable once
// added to a topology.
type Node struct {
	ID   string
	Area float64 // square metres, >0
	Type NodeType

	Pos *Position
}

// Edge is an unordered walkable adjacency between two nodes.
type Edge struct {
	A string
	B string
}
