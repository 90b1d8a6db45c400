package harness

import (
	"fmt"
	"sync"

	"github.com/lattice-run/raftactor/pkg/cluster"
)

// CommittedEntry is one (index, term, command) a node reported as committed.
type CommittedEntry struct {
	Index   uint64
	Term    uint64
	Command []byte
	NodeID  cluster.NodeID
}

// Violation describes a safety invariant that did not hold.
type Violation struct {
	Kind        string
	Description string
}

// InvariantChecker accumulates CommittedEntry observations from every node
// in a Cluster (usually via a raft.Completion passed to Propose, or by
// polling each actor's applied range) and checks them against raft's core
// safety invariants.
type InvariantChecker struct {
	mu      sync.Mutex
	commits map[cluster.NodeID][]CommittedEntry
}

// NewInvariantChecker returns an empty checker.
func NewInvariantChecker() *InvariantChecker {
	return &InvariantChecker{commits: make(map[cluster.NodeID][]CommittedEntry)}
}

// Record appends a committed entry observed on nodeID.
func (ic *InvariantChecker) Record(nodeID cluster.NodeID, index, term uint64, command []byte) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.commits[nodeID] = append(ic.commits[nodeID], CommittedEntry{Index: index, Term: term, Command: command, NodeID: nodeID})
}

// Check runs every safety check and returns every violation found.
func (ic *InvariantChecker) Check() []Violation {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	var violations []Violation
	violations = append(violations, ic.checkLogMatching()...)
	violations = append(violations, ic.checkMonotonicCommit()...)
	return violations
}

// checkLogMatching verifies that every node that committed an entry at a
// given index agrees on its term and command (the State Machine Safety
// property): two different values must never be committed at the same
// index.
func (ic *InvariantChecker) checkLogMatching() []Violation {
	byIndex := make(map[uint64]map[cluster.NodeID]CommittedEntry)
	for _, entries := range ic.commits {
		for _, e := range entries {
			if byIndex[e.Index] == nil {
				byIndex[e.Index] = make(map[cluster.NodeID]CommittedEntry)
			}
			byIndex[e.Index][e.NodeID] = e
		}
	}

	var violations []Violation
	for index, byNode := range byIndex {
		var first *CommittedEntry
		for _, e := range byNode {
			e := e
			if first == nil {
				first = &e
				continue
			}
			if first.Term != e.Term || string(first.Command) != string(e.Command) {
				violations = append(violations, Violation{
					Kind:        "log-matching",
					Description: fmt.Sprintf("index %d: node %s committed (term=%d) differs from node %s (term=%d)", index, first.NodeID, first.Term, e.NodeID, e.Term),
				})
			}
		}
	}
	return violations
}

// checkMonotonicCommit verifies each node's own committed sequence strictly
// increases: a node cannot un-commit an index once it has reported it. Gaps
// between reported indices are not flagged.
func (ic *InvariantChecker) checkMonotonicCommit() []Violation {
	var violations []Violation
	for node, entries := range ic.commits {
		var last uint64
		for _, e := range entries {
			if e.Index <= last && last != 0 {
				violations = append(violations, Violation{
					Kind:        "monotonic-commit",
					Description: fmt.Sprintf("node %s reported commit index %d after %d", node, e.Index, last),
				})
			}
			last = e.Index
		}
	}
	return violations
}
