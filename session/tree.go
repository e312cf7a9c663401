// Package session provides durable, branchable conversation storage: an
// append-only JSONL log of message records and an in-memory tree that is
// always a deterministic replay of that log. Branching is modeled by adding
// nodes with a shared parent; nodes are never edited or deleted.
package session

import (
	"fmt"
	"time"

	"github.com/convoke-ai/convoke/core"
)

// Node wraps one persisted message plus its place in the branching history.
// Parent and child relations are id references; the tree's node table is the
// sole owner of all nodes.
type Node struct {
	ID        string
	ParentID  string // empty only for the root
	Seq       uint64
	Timestamp time.Time
	Message   core.Message
	Children  []string
}

// Tree is the in-memory conversation structure replayed from a session log.
// It is a flat arena keyed by node id. Tree is not safe for concurrent use;
// the agent loop is its single writer.
type Tree struct {
	nodes   map[string]*Node
	order   []string // ids in application order
	rootID  string
	current string // current leaf, "" until a node is applied
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[string]*Node)}
}

// Apply inserts a node. Re-applying an id already present is a no-op, which
// makes log replay idempotent. The parent must already exist unless the node
// is the first (root) record. Applying moves the current leaf to the new node.
func (t *Tree) Apply(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("session: node id must not be empty")
	}
	if _, exists := t.nodes[n.ID]; exists {
		return nil
	}
	if n.ParentID == "" {
		if t.rootID != "" {
			return fmt.Errorf("session: node %s has no parent but root %s already exists", n.ID, t.rootID)
		}
	} else if _, ok := t.nodes[n.ParentID]; !ok {
		return fmt.Errorf("session: node %s references unknown parent %s", n.ID, n.ParentID)
	}

	stored := *n
	stored.Children = nil
	t.nodes[n.ID] = &stored
	t.order = append(t.order, n.ID)
	if n.ParentID == "" {
		t.rootID = n.ID
	} else {
		parent := t.nodes[n.ParentID]
		parent.Children = append(parent.Children, n.ID)
	}
	t.current = n.ID
	return nil
}

// Get returns the node with the given id, or nil.
func (t *Tree) Get(id string) *Node { return t.nodes[id] }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// RootID returns the root node id, empty for an empty tree.
func (t *Tree) RootID() string { return t.rootID }

// CurrentLeaf returns the id of the currently selected leaf, empty for an
// empty tree.
func (t *Tree) CurrentLeaf() string { return t.current }

// SelectLeaf re-roots the current line of conversation on any existing node,
// e.g. to continue from a regenerated turn. Nothing is deleted; sibling
// branches stay reachable.
func (t *Tree) SelectLeaf(id string) error {
	if _, ok := t.nodes[id]; !ok {
		return fmt.Errorf("session: cannot select unknown node %s", id)
	}
	t.current = id
	return nil
}

// Path returns the nodes from the root to id, inclusive.
func (t *Tree) Path(id string) ([]*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("session: unknown node %s", id)
	}
	var rev []*Node
	for n != nil {
		rev = append(rev, n)
		if n.ParentID == "" {
			break
		}
		n = t.nodes[n.ParentID]
	}
	path := make([]*Node, len(rev))
	for i := range rev {
		path[len(rev)-1-i] = rev[i]
	}
	return path, nil
}

// CurrentPath returns the nodes from the root to the current leaf, or nil for
// an empty tree.
func (t *Tree) CurrentPath() []*Node {
	if t.current == "" {
		return nil
	}
	path, _ := t.Path(t.current)
	return path
}

// Messages extracts the message sequence along a node path, ready to seed a
// conversation context.
func Messages(path []*Node) []core.Message {
	msgs := make([]core.Message, 0, len(path))
	for _, n := range path {
		msgs = append(msgs, n.Message)
	}
	return msgs
}

// Leaves returns the ids of all nodes without children, in application order.
func (t *Tree) Leaves() []string {
	var leaves []string
	for _, id := range t.order {
		if len(t.nodes[id].Children) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}
