package raft

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/lattice-run/raftactor/pkg/cluster"
	"github.com/lattice-run/raftactor/pkg/reactor"
	"github.com/lattice-run/raftactor/pkg/walstore"
)

// Actor is one cluster member's consensus engine: the role state machine,
// the log, the election protocol, and the table of per-peer replication
// engines. Every field is touched only from closures running on
// reactorHandle, the exported methods below are the only places that cross
// from caller goroutines onto it, and they all do so by posting a closure
// and waiting on a reactor.Deferred.
type Actor struct {
	self   NodeID
	roster *cluster.Roster
	peers  map[NodeID]*remotePeer

	log           *Log
	reactorHandle reactor.Reactor
	transport     Transport
	stateMachine  StateMachine
	options       Options
	applier       *applier

	role    Role
	leader  NodeID
	stopped bool

	election      *electionState
	electionTimer reactor.Timer
}

// NewActor builds an actor for self out of roster, a durable store, a
// transport for outbound RPCs, a user state machine, and a reactor to run
// on. Call Run to start the election clock.
func NewActor(self NodeID, roster *cluster.Roster, store walstore.Store, transport Transport, stateMachine StateMachine, reactorHandle reactor.Reactor, options Options) *Actor {
	a := &Actor{
		self:          self,
		roster:        roster,
		peers:         make(map[NodeID]*remotePeer),
		log:           NewLog(store),
		reactorHandle: reactorHandle,
		transport:     transport,
		stateMachine:  stateMachine,
		options:       options,
		role:          Follower,
	}
	a.applier = newApplier(a)
	for _, id := range roster.Peers() {
		a.peers[id] = newRemotePeer(a, id)
	}
	return a
}

// Run arms the election timer and, if the log already has committed but
// unapplied entries (recovered from a crash), kicks the applier. Safe to
// call from any goroutine.
func (a *Actor) Run() {
	a.reactorHandle.Post(func() {
		a.resetElectionTimer()
		if a.log.LastApplied() < a.log.CommitIndex() {
			a.applier.tick()
		}
	})
}

// Stop marks the actor stopped. Calls already posted to the reactor still
// run; Propose calls posted afterward observe ErrStopped. A leader's
// uncommitted proposals are completed with Committed=false. It does not
// close the reactor, which callers may share across actors in tests.
func (a *Actor) Stop() {
	a.reactorHandle.Post(func() {
		a.stopped = true
		if a.electionTimer != nil {
			a.electionTimer.Stop()
		}
		if a.role == Leader {
			for _, p := range a.peers {
				p.finishLeadership()
			}
			a.failPendingProposals()
		}
	})
}

// Self returns the local node id. Immutable after construction, safe to
// call from any goroutine without dispatch.
func (a *Actor) Self() NodeID { return a.self }

// ActorStatus is a point-in-time snapshot for status endpoints and test
// assertions.
type ActorStatus struct {
	Self        NodeID
	Role        Role
	Term        uint64
	Leader      NodeID
	CommitIndex uint64
	LastApplied uint64
	LastIndex   uint64
}

// Status reads a consistent snapshot of the actor's state.
func (a *Actor) Status() ActorStatus {
	d := reactor.NewDeferred[ActorStatus]()
	a.reactorHandle.Post(func() {
		d.Fulfil(ActorStatus{
			Self:        a.self,
			Role:        a.role,
			Term:        a.log.CurrentTerm(),
			Leader:      a.leader,
			CommitIndex: a.log.CommitIndex(),
			LastApplied: a.log.LastApplied(),
			LastIndex:   a.log.LastIndex(),
		})
	})
	return d.Wait()
}

// Propose appends command as a new entry if this actor is currently leader,
// binding completion to be invoked exactly once: positively when the entry
// commits, negatively if leadership is lost first. completion may be nil.
func (a *Actor) Propose(command []byte, completion Completion) (uint64, error) {
	d := reactor.NewDeferred[proposeResult]()
	a.reactorHandle.Post(func() {
		d.Fulfil(a.proposeOnReactor(command, completion))
	})
	res := d.Wait()
	return res.index, res.err
}

type proposeResult struct {
	index uint64
	err   error
}

func (a *Actor) proposeOnReactor(command []byte, completion Completion) proposeResult {
	if a.stopped {
		return proposeResult{0, ErrStopped}
	}
	if a.role != Leader {
		return proposeResult{0, ErrNotLeader}
	}
	index := a.log.Append(a.log.CurrentTerm(), PayloadCommand, command)
	a.log.BindCompletion(index, completion)
	for _, p := range a.peers {
		p.replicate()
	}
	a.updateCommitIndex()
	return proposeResult{index, nil}
}

// --- Inbound RPCs (raft.Server) ---

func (a *Actor) AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	d := reactor.NewDeferred[*AppendEntriesResponse]()
	a.reactorHandle.Post(func() {
		d.Fulfil(a.handleAppendEntries(req))
	})
	select {
	case resp := <-d.Result():
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	d := reactor.NewDeferred[*InstallSnapshotResponse]()
	a.reactorHandle.Post(func() {
		d.Fulfil(a.handleInstallSnapshot(req))
	})
	select {
	case resp := <-d.Result():
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) RequestVote(ctx context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	d := reactor.NewDeferred[*RequestVoteResponse]()
	a.reactorHandle.Post(func() {
		d.Fulfil(a.handleRequestVote(req))
	})
	select {
	case resp := <-d.Result():
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// preamble applies the rule shared by all three inbound RPCs: a stale term
// is rejected outright, and a newer term is adopted and steps this actor
// down to follower. AppendEntries and InstallSnapshot also step a candidate
// or leader down on an equal term, since a live RPC at the same term from
// the actual leader means this actor's claim to that term no longer holds
// exclusively. RequestVote does not: a same-term RequestVote only ever
// comes from a candidate, never the leader, so it must not be able to
// depose one on its own (stepDownOnEqualTerm=false for that caller).
func (a *Actor) preamble(term uint64, stepDownOnEqualTerm bool) (stale bool) {
	if term < a.log.CurrentTerm() {
		return true
	}
	if term > a.log.CurrentTerm() {
		a.stepDown(term)
	} else if stepDownOnEqualTerm && a.role != Follower {
		a.transitionToFollower()
	}
	return false
}

func (a *Actor) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	if stale := a.preamble(req.Term, true); stale {
		return &AppendEntriesResponse{Term: a.log.CurrentTerm(), Success: false}
	}
	a.leader = req.Leader
	a.resetElectionTimer()

	if req.PrevIndex > 0 {
		switch {
		case req.PrevIndex < a.log.SnapshotIndex():
			// Snapshot straddle: accepted only if the batch reaches the
			// snapshot's last index and agrees on its term there.
			snap := a.log.SnapshotIndex()
			if snap > req.PrevIndex+uint64(len(req.Entries)) || req.Entries[snap-req.PrevIndex-1].Term != a.log.SnapshotTerm() {
				return &AppendEntriesResponse{Term: a.log.CurrentTerm(), Success: false}
			}
		case req.PrevIndex == a.log.SnapshotIndex():
			if req.PrevTerm != a.log.SnapshotTerm() {
				return &AppendEntriesResponse{Term: a.log.CurrentTerm(), Success: false}
			}
		default:
			entry, ok := a.log.At(req.PrevIndex)
			if !ok || entry.Term != req.PrevTerm {
				return &AppendEntriesResponse{Term: a.log.CurrentTerm(), Success: false}
			}
		}
	}

	for _, e := range req.Entries {
		if e.Index <= a.log.SnapshotIndex() {
			continue
		}
		existing, ok := a.log.At(e.Index)
		if ok && existing.Term == e.Term {
			continue
		}
		if ok {
			// Conflicting entry at this index: the log matching property
			// means everything from here on is suspect too.
			a.log.Truncate(e.Index)
		}
		a.log.AppendEntry(e)
	}

	if req.LeaderCommit > a.log.CommitIndex() {
		newCommit := req.LeaderCommit
		if last := a.log.LastIndex(); newCommit > last {
			newCommit = last
		}
		a.setCommitIndex(newCommit)
	}

	return &AppendEntriesResponse{Term: a.log.CurrentTerm(), Success: true}
}

func (a *Actor) handleInstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	if stale := a.preamble(req.Term, true); stale {
		return &InstallSnapshotResponse{Term: a.log.CurrentTerm()}
	}
	a.leader = req.Leader
	a.resetElectionTimer()

	if req.SnapIndex <= a.log.SnapshotIndex() {
		return &InstallSnapshotResponse{Term: a.log.CurrentTerm()}
	}
	if err := a.applier.installLeaderSnapshot(req.SnapIndex, req.SnapTerm, req.Payload, req.LeaderCommit); err != nil {
		// Nothing useful to do with a consume failure but surface it; the
		// leader will simply retry on the next heartbeat since matchIndex
		// was never advanced.
		_ = err
	}
	return &InstallSnapshotResponse{Term: a.log.CurrentTerm()}
}

func (a *Actor) handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	if stale := a.preamble(req.Term, false); stale {
		return &RequestVoteResponse{Term: a.log.CurrentTerm(), Granted: false}
	}

	votedFor := a.log.VotedFor()
	if votedFor != "" && votedFor != string(req.Candidate) {
		return &RequestVoteResponse{Term: a.log.CurrentTerm(), Granted: false}
	}

	lastTerm := a.log.LastTerm()
	lastIndex := a.log.LastIndex()
	upToDate := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)
	if !upToDate {
		return &RequestVoteResponse{Term: a.log.CurrentTerm(), Granted: false}
	}

	a.log.SetVotedFor(string(req.Candidate))
	a.resetElectionTimer()
	return &RequestVoteResponse{Term: a.log.CurrentTerm(), Granted: true}
}

// --- Role transitions ---

func (a *Actor) stepDown(term uint64) {
	if term > a.log.CurrentTerm() {
		a.log.SetCurrentTerm(term)
		a.log.SetVotedFor("")
	}
	a.transitionToFollower()
}

func (a *Actor) transitionToFollower() {
	if a.role == Leader {
		for _, p := range a.peers {
			p.finishLeadership()
		}
		a.failPendingProposals()
	}
	if a.election != nil {
		a.election.disable()
		a.election = nil
	}
	a.role = Follower
	a.leader = ""
	a.resetElectionTimer()
}

func (a *Actor) failPendingProposals() {
	for _, idx := range a.log.PendingIndices(a.log.CommitIndex()) {
		if c, ok := a.log.TakeCompletion(idx); ok {
			c(CommitOutcome{Index: idx, Committed: false})
		}
	}
}

// --- Election protocol ---

func (a *Actor) resetElectionTimer() {
	d := a.randomElectionTimeout()
	if a.electionTimer != nil {
		a.electionTimer.Reset(d)
		return
	}
	a.electionTimer = a.reactorHandle.AfterFunc(d, a.onElectionTimeout)
}

func (a *Actor) randomElectionTimeout() time.Duration {
	t := a.options.ElectionTimeout
	if t <= 0 {
		return 0
	}
	return t + time.Duration(rand.Int63n(int64(t)+1))
}

func (a *Actor) onElectionTimeout() {
	if a.stopped || a.role == Leader {
		return
	}
	a.startElection()
	if a.electionTimer != nil {
		a.electionTimer.Reset(a.randomElectionTimeout())
	}
}

func (a *Actor) startElection() {
	a.role = Candidate
	a.leader = ""
	term := a.log.CurrentTerm() + 1
	a.log.SetCurrentTerm(term)
	a.log.SetVotedFor(string(a.self))
	a.election = newElectionState()

	lastIndex := a.log.LastIndex()
	lastTerm := a.log.LastTerm()
	req := &RequestVoteRequest{Term: term, Candidate: a.self, LastLogIndex: lastIndex, LastLogTerm: lastTerm}

	for _, id := range a.roster.Peers() {
		target := id
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.options.ElectionTimeout)
			defer cancel()
			resp, err := a.transport.RequestVote(ctx, target, req)
			a.reactorHandle.Post(func() {
				a.handleVoteReply(term, resp, err)
			})
		}()
	}

	if a.election.granted >= a.roster.Quorum() {
		a.becomeLeader()
	}
}

func (a *Actor) handleVoteReply(term uint64, resp *RequestVoteResponse, err error) {
	if a.election == nil || !a.election.active {
		return
	}
	if a.role != Candidate || a.log.CurrentTerm() != term {
		return
	}
	if err != nil {
		return
	}
	if resp.Term > a.log.CurrentTerm() {
		a.stepDown(resp.Term)
		return
	}
	if !resp.Granted {
		return
	}
	a.election.granted++
	if a.election.granted >= a.roster.Quorum() {
		a.becomeLeader()
	}
}

func (a *Actor) becomeLeader() {
	if a.election != nil {
		a.election.disable()
		a.election = nil
	}
	a.role = Leader
	a.leader = a.self
	if a.electionTimer != nil {
		a.electionTimer.Stop()
	}

	a.log.Append(a.log.CurrentTerm(), PayloadNoOp, nil)
	for _, p := range a.peers {
		p.beginLeadership()
	}
	a.updateCommitIndex()
}

// --- Commit advancement ---

// updateCommitIndex recomputes the highest index replicated to a majority
// (the leader's own match is its last log index) and advances commit_index
// to it, subject to the term restriction: an entry is only committed by
// counting replicas if it was appended in the current term.
func (a *Actor) updateCommitIndex() {
	if a.role != Leader {
		return
	}
	matches := make([]uint64, 0, len(a.peers)+1)
	matches = append(matches, a.log.LastIndex())
	for _, p := range a.peers {
		matches = append(matches, p.matchIndex)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	quorum := a.roster.Quorum()
	if quorum > len(matches) {
		return
	}
	pivot := matches[quorum-1]
	if pivot <= a.log.CommitIndex() {
		return
	}

	entry, ok := a.log.At(pivot)
	if !ok || entry.Term != a.log.CurrentTerm() {
		return
	}
	a.setCommitIndex(pivot)
}

// setCommitIndex advances commit_index to index, persists it, fires every
// completion bound in the newly committed range positively, and wakes the
// applier.
func (a *Actor) setCommitIndex(index uint64) {
	prev := a.log.CommitIndex()
	if index <= prev {
		return
	}
	a.log.setCommitIndexField(index)
	for i := prev + 1; i <= index; i++ {
		if c, ok := a.log.TakeCompletion(i); ok {
			c(CommitOutcome{Index: i, Committed: true})
		}
	}
	a.reactorHandle.Post(a.applier.tick)
}

// --- Shared helpers used by remotePeer ---

func (a *Actor) termAt(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	if index == a.log.SnapshotIndex() {
		return a.log.SnapshotTerm()
	}
	e, ok := a.log.At(index)
	if !ok {
		return 0
	}
	return e.Term
}

func (a *Actor) entriesFrom(start uint64, max int) []LogEntry {
	var out []LogEntry
	last := a.log.LastIndex()
	for i := start; i <= last && len(out) < max; i++ {
		e, ok := a.log.At(i)
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}
