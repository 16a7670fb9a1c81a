package model

import (
	"log/slog"

	"github.com/emirpasic/gods/v2/queues/arrayqueue"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/logutil"
)

// Order is an execution order over a Graph: every node appears after all the
// nodes it reads from.
type Order struct {
	graph     *Graph
	nodes     []*Node
	consumers [][]*Node
}

// Graph returns the graph the order was computed for.
func (o *Order) Graph() *Graph { return o.graph }

// Nodes returns the nodes in execution order. The slice must not be modified.
func (o *Order) Nodes() []*Node { return o.nodes }

// Len returns the number of scheduled nodes.
func (o *Order) Len() int { return len(o.nodes) }

// Consumers returns the nodes that read the output of id, in insertion order.
// A node that reads the same input twice appears twice.
func (o *Order) Consumers(id NodeID) []*Node {
	return o.consumers[id]
}

// Position returns the index of node id in the order.
func (o *Order) Position(id NodeID) int {
	return o.graph.Node(id).TopoIndex
}

// Producer returns the scheduled node whose output is t, or nil.
func (o *Order) Producer(t *core.Tensor) *Node {
	for i := len(o.nodes) - 1; i >= 0; i-- {
		if o.nodes[i].Out == t {
			return o.nodes[i]
		}
	}
	return nil
}

// Schedule computes a topological order of g with Kahn's algorithm. Nodes
// that become ready at the same time keep their insertion order, so the result
// is deterministic. A graph whose order does not cover every node (a cycle, or
// an input that does not belong to g) is fatal.
func Schedule(g *Graph) *Order {
	n := len(g.nodes)
	pending := make([]int, n)
	consumers := make([][]*Node, n)

	queue := arrayqueue.New[*Node]()
	for _, node := range g.nodes {
		pending[node.ID] = len(node.Inputs)
		for _, in := range node.Inputs {
			// Foreign inputs are never resolved and leave the node pending.
			if g.owns(in) {
				consumers[in.ID] = append(consumers[in.ID], node)
			}
		}
		if pending[node.ID] == 0 {
			queue.Enqueue(node)
		}
	}

	order := make([]*Node, 0, n)
	for !queue.Empty() {
		node, _ := queue.Dequeue()
		node.TopoIndex = len(order)
		order = append(order, node)

		for _, c := range consumers[node.ID] {
			pending[c.ID]--
			if pending[c.ID] == 0 {
				queue.Enqueue(c)
			}
		}
	}

	if len(order) < n {
		for _, node := range g.nodes {
			if pending[node.ID] > 0 {
				slog.Debug("unschedulable node", "node", node.ID, "op", node.Op, "unresolved", pending[node.ID])
			}
		}
		core.Fatalf(core.ErrCycle, "schedule: ordered %d of %d nodes, graph has a cycle or disconnected nodes", len(order), n)
	}

	if logutil.TraceEnabled() {
		for _, node := range order {
			logutil.Trace("scheduled", "pos", node.TopoIndex, "node", node)
		}
	}
	return &Order{graph: g, nodes: order, consumers: consumers}
}
