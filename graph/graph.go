// Package graph implements the Workflow Graph (C6): a directed graph of
// nodes with conditional edges, driven by explicit next_node hints and
// error markers. Grounded on the other_examples langgraph-go reference
// engine, trimmed to the spec's sequential-only model — no node runs in
// parallel with any other node of the same instance (spec §5) — so the
// reference's concurrent Frontier/WorkItem machinery is not carried over.
package graph

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nickmisasi/governance-engine/checkpoint"
	"github.com/nickmisasi/governance-engine/gate"
	"github.com/nickmisasi/governance-engine/logging"
	"github.com/nickmisasi/governance-engine/node"
)

// terminal marks "no successor": the graph has reached its end route for
// this run. It is also the PendingNode value of an instance with nothing
// left to resume.
const terminal = ""

// spec is one node's entry in the graph: the node itself, plus the map from
// a recognized next_node value to the name of its successor. A value not
// present in Routes (including the empty string) resolves to terminal.
type spec struct {
	n      node.Node
	routes map[string]string
}

// ErrNodeNotFound is returned if the graph's entry or a resolved successor
// name has no registered node.
var ErrNodeNotFound = errors.New("graph: node not found")

// Graph is a statically defined directed graph for one stage. Dynamic
// rewiring is disallowed per spec §4.6; Add/StartAt are meant to be called
// once at stage-construction time, not during a run.
type Graph struct {
	entry string
	nodes map[string]spec
	store checkpoint.Store
	log   logging.Logger
}

func New(store checkpoint.Store, logger logging.Logger) *Graph {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Graph{nodes: map[string]spec{}, store: store, log: logger}
}

// Add registers a node under name with its routing table: next_node value
// -> successor node name. An empty map is valid for a node whose only route
// is the default terminal one (e.g., a finalize node).
func (g *Graph) Add(name string, n node.Node, routes map[string]string) {
	g.nodes[name] = spec{n: n, routes: routes}
}

// StartAt sets the single entry node for a fresh (non-resumed) instance.
func (g *Graph) StartAt(name string) {
	g.entry = name
}

// resolveNext implements spec §4.6's edge routing rules: a non-empty
// error_message forces the terminal route unless next_node was explicitly
// set to a value the current node recognizes as a retry route (the
// "recoverable kind" exception, e.g. finalize reopening the preceding
// gate on a retryable error); otherwise a recognized next_node resolves to
// its named successor, and an empty or unrecognized value resolves to
// terminal.
func resolveNext(s node.State, sp spec) string {
	if s.ErrorMessage != "" {
		if s.NextNode != "" {
			if target, ok := sp.routes[s.NextNode]; ok {
				return target
			}
		}
		return terminal
	}
	if s.NextNode != "" {
		if target, ok := sp.routes[s.NextNode]; ok {
			return target
		}
	}
	return terminal
}

// Run drives nodes sequentially starting from the entry node (a fresh
// instance) or from the last-persisted PendingNode (a resumed instance),
// persisting a checkpoint snapshot at every node boundary before the next
// node begins, per spec §4.2/§5. It returns the final State once a
// terminal route is reached, or an error — which may wrap gate.ErrPause,
// in which case the checkpoint was deliberately left unadvanced and the
// caller should treat this as a clean, resumable pause rather than a
// failure.
func (g *Graph) Run(ctx context.Context, initial node.State) (node.State, error) {
	threadID := initial.ThreadID()

	current := initial
	nodeName := g.entry

	loaded, found, err := g.store.Load(threadID)
	if err != nil {
		return initial, errors.Wrapf(err, "load checkpoint for %s", threadID)
	}
	if found {
		current = loaded
		if current.PendingNode == terminal {
			// Nothing left to resume; this instance already reached a
			// terminal route on a prior run. Invariant 5 (spec §8): the
			// first node executed on resume is the successor of the last
			// node that completed — here, nothing, because the chain is
			// already finished.
			g.log.Debug("graph run is a no-op resume of a terminal instance", "thread_id", threadID)
			return current, nil
		}
		nodeName = current.PendingNode
	}

	for {
		sp, ok := g.nodes[nodeName]
		if !ok {
			return current, errors.Wrapf(ErrNodeNotFound, "%q", nodeName)
		}

		delta, runErr := sp.n.Run(ctx, current)
		if runErr != nil {
			if gate.IsPause(runErr) {
				// Cooperative interrupt: record nothing, advance nothing.
				// The checkpoint stays exactly as it was loaded (or absent,
				// for a brand-new instance whose very first gate paused),
				// so the next invocation re-enters the same node.
				g.log.Info("node raised a cooperative interrupt", "node", nodeName, "thread_id", threadID)
				return current, runErr
			}
			return current, errors.Wrapf(runErr, "node %q failed", nodeName)
		}

		merged := node.Merge(current, delta)
		next := resolveNext(merged, sp)
		merged.PendingNode = next

		if err := g.store.Save(threadID, merged); err != nil {
			return merged, errors.Wrapf(err, "persist checkpoint after node %q", nodeName)
		}

		current = merged
		if next == terminal {
			return current, nil
		}
		nodeName = next
	}
}
