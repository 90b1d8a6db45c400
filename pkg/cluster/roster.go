// Package cluster holds the static set of peer node identities a raft actor
// is configured with. Runtime membership changes (joint consensus) are out
// of scope; the roster is fixed at construction and resolved once against
// whatever transport the actor was given.
package cluster

import "sort"

// NodeID is a stable, comparable token identifying a cluster member. A
// "host:port" string satisfies it; so does any other opaque comparable id.
type NodeID string

// Roster is the fixed set of peers in the cluster, excluding the local node.
// It is read-only after construction: the actor never mutates it, it only
// reads the member list once at startup to build its remote-peer table.
type Roster struct {
	self  NodeID
	peers []NodeID
}

// NewRoster builds a roster for self out of peers, de-duplicating and
// dropping self if it appears in the peer list (a common copy/paste mistake
// when peers come from a flag like "a=addr,b=addr,c=addr").
func NewRoster(self NodeID, peers []NodeID) *Roster {
	seen := make(map[NodeID]bool, len(peers))
	unique := make([]NodeID, 0, len(peers))
	for _, p := range peers {
		if p == self || seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return &Roster{self: self, peers: unique}
}

// Self returns the local node's id.
func (r *Roster) Self() NodeID { return r.self }

// Peers returns the other cluster members. The returned slice is owned by
// the caller; mutating it does not affect the roster.
func (r *Roster) Peers() []NodeID {
	out := make([]NodeID, len(r.peers))
	copy(out, r.peers)
	return out
}

// Size is the total cluster size, self included.
func (r *Roster) Size() int {
	return len(r.peers) + 1
}

// Quorum is the strict majority of Size(), i.e. floor(size/2)+1.
func (r *Roster) Quorum() int {
	return r.Size()/2 + 1
}
