// Package model defines the computation graph of the engine.
//
// A Graph is an append-only sequence of Nodes built inside one Arena. Leaf
// nodes wrap caller-supplied tensors (inputs and parameters); operation nodes
// infer their output shape from their inputs and allocate the output tensor
// from the graph's arena when they are added. Because every input must already
// exist when a node is added, insertion order is always a valid topological
// order.
//
// Key data structures:
//   - Node: operator tag, output tensor, input references, schedule position
//   - Graph: the node sequence plus the arena its tensors come from
//   - Order: the execution order produced by Schedule
//
// A Graph and its tensors live until the arena behind them is reset; the graph
// must be dropped before that happens.
package model

import (
	"fmt"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/kernels"
)

// NodeID is the position of a node in its Graph.
type NodeID int

// Node is one vertex of the graph. Inputs refer to nodes of the same graph and
// are never owned by the node.
type Node struct {
	ID     NodeID
	Op     kernels.Op
	Out    *core.Tensor
	Inputs []*Node

	// TopoIndex is the position of the node in the last order computed by
	// Schedule, or -1 before scheduling.
	TopoIndex int

	graph *Graph
}

// NumInputs implements kernels.Node.
func (n *Node) NumInputs() int { return len(n.Inputs) }

// Input implements kernels.Node.
func (n *Node) Input(i int) *core.Tensor { return n.Inputs[i].Out }

// Output implements kernels.Node.
func (n *Node) Output() *core.Tensor { return n.Out }

func (n *Node) String() string {
	return fmt.Sprintf("%%%d = %s%v", n.ID, n.Op, n.Out.Dims())
}

// Graph is an append-only computation graph. Not safe for concurrent use.
type Graph struct {
	arena *core.Arena
	nodes []*Node
}

// NewGraph returns an empty graph that allocates node outputs from a.
func NewGraph(a *core.Arena) *Graph {
	if a == nil {
		core.Fatalf(core.ErrNilReference, "graph: nil arena")
	}
	return &Graph{arena: a}
}

// Arena returns the arena node outputs are allocated from.
func (g *Graph) Arena() *core.Arena {
	return g.arena
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		core.Fatalf(core.ErrInvalidArgument, "graph: node %d out of range [0, %d)", id, len(g.nodes))
	}
	return g.nodes[id]
}

// Nodes returns the nodes in insertion order. The slice must not be modified.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Last returns the id of the most recently added node.
func (g *Graph) Last() NodeID {
	if len(g.nodes) == 0 {
		core.Fatalf(core.ErrInvalidArgument, "graph: no nodes")
	}
	return NodeID(len(g.nodes) - 1)
}

// Tensor returns the output tensor of node id.
func (g *Graph) Tensor(id NodeID) *core.Tensor {
	return g.Node(id).Out
}

func (g *Graph) append(n *Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	n.TopoIndex = -1
	n.graph = g
	g.nodes = append(g.nodes, n)
	return n.ID
}

// AddInput appends a leaf node wrapping t. No memory is allocated for the
// tensor; the caller keeps it populated.
func (g *Graph) AddInput(t *core.Tensor) NodeID {
	if t == nil {
		core.Fatalf(core.ErrNilReference, "graph: input tensor is nil")
	}
	return g.append(&Node{Op: kernels.OpInput, Out: t})
}

// AddNode appends an operation node over inputs and returns its output
// tensor. The input count must match the kernel arity and the input shapes
// must satisfy the kernel's shape rule; anything else is fatal.
func (g *Graph) AddNode(op kernels.Op, inputs ...NodeID) *core.Tensor {
	if op == kernels.OpInput {
		core.Fatalf(core.ErrInvalidArgument, "graph: input nodes are added with AddInput")
	}
	k := kernels.Lookup(op)
	if len(inputs) != k.Arity {
		core.Fatalf(core.ErrArity, "graph: %s takes %d inputs, got %d", k.Name, k.Arity, len(inputs))
	}

	n := &Node{Op: op, Inputs: make([]*Node, len(inputs))}
	tensors := make([]*core.Tensor, len(inputs))
	for i, id := range inputs {
		n.Inputs[i] = g.Node(id)
		tensors[i] = n.Inputs[i].Out
	}
	n.Out = core.NewTensor(g.arena, k.Infer(tensors)...)

	g.append(n)
	return n.Out
}

func (g *Graph) add(op kernels.Op, inputs ...NodeID) NodeID {
	g.AddNode(op, inputs...)
	return g.Last()
}

// Add appends a + b.
func (g *Graph) Add(a, b NodeID) NodeID { return g.add(kernels.OpAdd, a, b) }

// Sub appends a - b.
func (g *Graph) Sub(a, b NodeID) NodeID { return g.add(kernels.OpSub, a, b) }

// Mul appends the elementwise product a * b.
func (g *Graph) Mul(a, b NodeID) NodeID { return g.add(kernels.OpMul, a, b) }

// MatMul appends the matrix product a · b.
func (g *Graph) MatMul(a, b NodeID) NodeID { return g.add(kernels.OpMatMul, a, b) }

// ReLU appends max(a, 0).
func (g *Graph) ReLU(a NodeID) NodeID { return g.add(kernels.OpReLU, a) }

// Softmax appends the row-wise softmax of a.
func (g *Graph) Softmax(a NodeID) NodeID { return g.add(kernels.OpSoftmax, a) }

// Validate checks graph consistency without aborting: every node has an
// output, every operation node has as many inputs as its kernel expects, and
// every input belongs to this graph and was added before its consumer.
func (g *Graph) Validate() error {
	if len(g.nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}

	for i, n := range g.nodes {
		if n.ID != NodeID(i) {
			return fmt.Errorf("node at position %d has id %d", i, n.ID)
		}
		if n.Out == nil {
			return fmt.Errorf("node %d has no output tensor", n.ID)
		}
		if n.Op == kernels.OpInput {
			if len(n.Inputs) != 0 {
				return fmt.Errorf("input node %d has %d inputs", n.ID, len(n.Inputs))
			}
			continue
		}
		if !kernels.Registered(n.Op) {
			return fmt.Errorf("node %d uses unregistered %s", n.ID, n.Op)
		}
		if arity := kernels.Lookup(n.Op).Arity; len(n.Inputs) != arity {
			return fmt.Errorf("node %d: %s takes %d inputs, has %d", n.ID, n.Op, arity, len(n.Inputs))
		}
		for _, in := range n.Inputs {
			if !g.owns(in) {
				return fmt.Errorf("node %d references a node outside the graph", n.ID)
			}
			if in.ID >= n.ID {
				return fmt.Errorf("node %d references later node %d", n.ID, in.ID)
			}
		}
	}

	return nil
}

func (g *Graph) owns(n *Node) bool {
	return n != nil && n.graph == g && int(n.ID) < len(g.nodes) && g.nodes[n.ID] == n
}
