package cluster_test

import (
	"testing"

	"github.com/lattice-run/raftactor/pkg/cluster"
)

func TestNewRosterDropsSelfAndDuplicates(t *testing.T) {
	r := cluster.NewRoster("a", []cluster.NodeID{"b", "a", "c", "b"})
	peers := r.Peers()
	if len(peers) != 2 {
		t.Fatalf("Peers() = %v, want 2 unique non-self entries", peers)
	}
}

func TestQuorumIsStrictMajority(t *testing.T) {
	cases := []struct {
		peers int
		want  int
	}{
		{0, 1},
		{1, 2},
		{2, 2},
		{4, 3},
	}
	for _, tc := range cases {
		peers := make([]cluster.NodeID, tc.peers)
		for i := range peers {
			peers[i] = cluster.NodeID(rune('b' + i))
		}
		r := cluster.NewRoster("a", peers)
		if got := r.Quorum(); got != tc.want {
			t.Errorf("cluster of size %d: Quorum() = %d, want %d", tc.peers+1, got, tc.want)
		}
	}
}
