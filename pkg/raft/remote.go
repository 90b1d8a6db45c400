package raft

import (
	"context"

	"github.com/lattice-run/raftactor/pkg/reactor"
)

// remotePeer is the leader's per-peer replication engine. It holds an
// unexported, non-owning back-pointer to the actor that owns it: the actor
// owns the map of remotePeers strongly, each remotePeer points back weakly,
// never both directions strong.
type remotePeer struct {
	id    NodeID
	actor *Actor

	nextIndex  uint64
	matchIndex uint64
	inFlight   bool
	heartbeat  reactor.Timer
}

func newRemotePeer(actor *Actor, id NodeID) *remotePeer {
	return &remotePeer{id: id, actor: actor}
}

// beginLeadership initialises replication state for a newly elected leader
// and fires an immediate empty replication.
func (p *remotePeer) beginLeadership() {
	p.nextIndex = p.actor.log.LastIndex() + 1
	p.matchIndex = 0
	p.inFlight = false
	p.heartbeat = p.actor.reactorHandle.AfterFunc(p.actor.options.HeartbeatTimeout, p.onHeartbeat)
	p.replicate()
}

// finishLeadership stops this peer's heartbeat. In-flight RPCs may still
// complete and post their reply back to the reactor; handleAppendEntriesReply
// and handleInstallSnapshotReply both re-check the actor's role before
// mutating anything, so a late reply after finishLeadership is a no-op.
func (p *remotePeer) finishLeadership() {
	if p.heartbeat != nil {
		p.heartbeat.Stop()
		p.heartbeat = nil
	}
}

func (p *remotePeer) onHeartbeat() {
	if p.actor.role != Leader {
		return
	}
	p.replicate()
	if p.heartbeat != nil {
		p.heartbeat.Reset(p.actor.options.HeartbeatTimeout)
	}
}

// replicate sends the next batch (or a snapshot, if the peer has fallen
// behind the compacted prefix) unless a dispatch to this peer is already in
// flight.
func (p *remotePeer) replicate() {
	if p.inFlight || p.actor.role != Leader {
		return
	}
	p.inFlight = true

	if p.nextIndex <= p.actor.log.SnapshotIndex() {
		p.sendInstallSnapshot()
		return
	}
	p.sendAppendEntries()
}

func (p *remotePeer) sendAppendEntries() {
	actor := p.actor
	prevIndex := p.nextIndex - 1
	prevTerm := actor.termAt(prevIndex)
	entries := actor.entriesFrom(p.nextIndex, actor.options.BatchMax)

	req := &AppendEntriesRequest{
		Term:         actor.log.CurrentTerm(),
		Leader:       actor.self,
		PrevIndex:    prevIndex,
		PrevTerm:     prevTerm,
		Entries:      entries,
		LeaderCommit: actor.log.CommitIndex(),
	}
	sentFrom := p.nextIndex
	sentCount := len(entries)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actor.options.HeartbeatTimeout*4)
		defer cancel()
		resp, err := actor.transport.AppendEntries(ctx, p.id, req)
		actor.reactorHandle.Post(func() {
			p.handleAppendEntriesReply(sentFrom, sentCount, resp, err)
		})
	}()
}

func (p *remotePeer) handleAppendEntriesReply(sentFrom uint64, sentCount int, resp *AppendEntriesResponse, err error) {
	p.inFlight = false
	if p.actor.role != Leader {
		return
	}
	if err != nil {
		// Transport failure: preserve next_index, retry on next heartbeat.
		return
	}
	if resp.Term > p.actor.log.CurrentTerm() {
		p.actor.stepDown(resp.Term)
		return
	}

	if resp.Success {
		p.matchIndex = sentFrom + uint64(sentCount) - 1
		p.nextIndex = p.matchIndex + 1
		p.actor.updateCommitIndex()
		if p.nextIndex <= p.actor.log.LastIndex() {
			p.replicate()
		}
		return
	}

	// Consistency mismatch: linear back-off and retry.
	if p.nextIndex > 1 {
		p.nextIndex--
	}
	p.replicate()
}

func (p *remotePeer) sendInstallSnapshot() {
	actor := p.actor
	snapIndex := actor.log.SnapshotIndex()
	req := &InstallSnapshotRequest{
		Term:         actor.log.CurrentTerm(),
		Leader:       actor.self,
		SnapIndex:    snapIndex,
		SnapTerm:     actor.log.SnapshotTerm(),
		Payload:      actor.log.SnapshotPayload(),
		LeaderCommit: actor.log.CommitIndex(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), actor.options.HeartbeatTimeout*20)
		defer cancel()
		resp, err := actor.transport.InstallSnapshot(ctx, p.id, req)
		actor.reactorHandle.Post(func() {
			p.handleInstallSnapshotReply(snapIndex, resp, err)
		})
	}()
}

func (p *remotePeer) handleInstallSnapshotReply(snapIndex uint64, resp *InstallSnapshotResponse, err error) {
	p.inFlight = false
	if p.actor.role != Leader {
		return
	}
	if err != nil {
		return
	}
	if resp.Term > p.actor.log.CurrentTerm() {
		p.actor.stepDown(resp.Term)
		return
	}

	p.matchIndex = snapIndex
	p.nextIndex = snapIndex + 1
	p.actor.updateCommitIndex()
}
