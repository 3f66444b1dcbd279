package mcts

import (
	"math"
)

// NodeID addresses a Node inside its Tree.
type NodeID int32

// NilNode is the parent of the root.
const NilNode NodeID = -1

// Node holds the statistics of one edge: the action that leads to it from the
// parent, and the visits and values recorded for it since.
//
// ValueSum and MeanValue are from the perspective of the player who played
// Action, i.e. the player to move at the parent.
type Node struct {
	Parent   NodeID
	Action   int
	Children []NodeID

	Prior      float32
	VisitCount int
	ValueSum   float32
	MeanValue  float32
}

// ActionPrior pairs an action with its prior probability for expansion.
type ActionPrior struct {
	Action int
	Prior  float32
}

// Tree is an arena of Nodes. Node 0 is the root. Nodes are never removed;
// a new Tree is built for every move decision.
type Tree struct {
	nodes []*Node
}

// NewTree returns a tree holding a single unvisited root.
func NewTree() *Tree {
	t := &Tree{nodes: make([]*Node, 0, 1024)}
	t.nodes = append(t.nodes, &Node{Parent: NilNode, Action: -1, Prior: 1})
	return t
}

// Root is always node 0.
func (t *Tree) Root() NodeID { return 0 }

func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node for id. The pointer stays valid for the lifetime of
// the tree.
func (t *Tree) Node(id NodeID) *Node { return t.nodes[id] }

func (t *Tree) IsLeaf(id NodeID) bool { return len(t.nodes[id].Children) == 0 }

// U is the PUCT exploration bonus of id relative to its parent's visits.
func (t *Tree) U(id NodeID, cpuct float32) float32 {
	n := t.nodes[id]
	if n.Parent == NilNode {
		return 0
	}
	return explorationBonus(n, cpuct, sqrtVisits(t.nodes[n.Parent]))
}

func sqrtVisits(n *Node) float32 { return float32(math.Sqrt(float64(n.VisitCount))) }

// explorationBonus is cpuct * P * sqrt(parent N) / (1 + N).
func explorationBonus(n *Node, cpuct, sqrtParentN float32) float32 {
	return cpuct * n.Prior * sqrtParentN / (1 + float32(n.VisitCount))
}

// SelectBestChild returns the child of id maximizing Q + U. Ties go to the
// child inserted first. It returns NilNode for a leaf.
func (t *Tree) SelectBestChild(id NodeID, cpuct float32) NodeID {
	parent := t.nodes[id]
	sqrtN := sqrtVisits(parent)

	best := NilNode
	bestScore := float32(math.Inf(-1))
	for _, cid := range parent.Children {
		child := t.nodes[cid]
		score := child.MeanValue + explorationBonus(child, cpuct, sqrtN)
		if score > bestScore {
			bestScore = score
			best = cid
		}
	}
	return best
}

// Expand adds an unvisited child for every action not already a child of id,
// in the order given. Actions already present are left untouched.
func (t *Tree) Expand(id NodeID, priors []ActionPrior) {
	present := make(map[int]struct{}, len(t.nodes[id].Children)+len(priors))
	for _, cid := range t.nodes[id].Children {
		present[t.nodes[cid].Action] = struct{}{}
	}
	for _, ap := range priors {
		if _, ok := present[ap.Action]; ok {
			continue
		}
		present[ap.Action] = struct{}{}
		child := NodeID(len(t.nodes))
		t.nodes = append(t.nodes, &Node{Parent: id, Action: ap.Action, Prior: ap.Prior})
		t.nodes[id].Children = append(t.nodes[id].Children, child)
	}
}

// RecordValue adds one visit with value v to id.
func (t *Tree) RecordValue(id NodeID, v float32) {
	n := t.nodes[id]
	n.VisitCount++
	n.ValueSum += v
	n.MeanValue = n.ValueSum / float32(n.VisitCount)
}

// Backup records v at id and alternates its sign on every step up to the
// root. It returns the number of nodes updated.
func (t *Tree) Backup(id NodeID, v float32) int {
	depth := 0
	for id != NilNode {
		t.RecordValue(id, v)
		v = -v
		id = t.nodes[id].Parent
		depth++
	}
	return depth
}

// Depth is the number of edges between id and the root.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for t.nodes[id].Parent != NilNode {
		id = t.nodes[id].Parent
		d++
	}
	return d
}
