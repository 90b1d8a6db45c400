package raft

import "log"

// applier feeds committed entries to the user state machine in bounded
// batches, consumes leader-installed snapshots, and periodically captures
// its own snapshot of the state machine to let the log compact.
type applier struct {
	actor *Actor

	// pendingSnapshotIndex/Term/Payload hold a locally captured snapshot
	// that has not yet been installed into the log. It is armed once
	// last_applied runs a full SnapshotThreshold ahead of the installed
	// snapshot, then rotated in only once commit_index has since advanced
	// another SnapshotThreshold/2 past it, so compaction always leaves a
	// trailing window of recent entries for slow followers to catch up on.
	pendingIndex   uint64
	pendingTerm    uint64
	pendingPayload []byte
	armed          bool
}

func newApplier(actor *Actor) *applier {
	return &applier{actor: actor}
}

// tick applies up to Options.MessageSize newly committed entries, then
// considers arming or rotating in a snapshot. It is posted to the reactor
// whenever commit_index advances and reposts itself while there is more
// work to do.
func (a *applier) tick() {
	actor := a.actor
	applied := 0
	for applied < actor.options.MessageSize && actor.log.LastApplied() < actor.log.CommitIndex() {
		next := actor.log.LastApplied() + 1
		entry, ok := actor.log.At(next)
		if !ok {
			// next <= SnapshotIndex(): the entry was compacted away before
			// being applied locally, which only happens if this replica
			// itself installed a snapshot covering it. Skip forward.
			actor.log.SetLastApplied(next)
			applied++
			continue
		}
		if entry.Kind == PayloadCommand {
			if err := actor.stateMachine.Invoke(entry.Command); err != nil {
				if a.handleInvokeFailure(next, err) {
					break
				}
			}
		}
		actor.log.SetLastApplied(next)
		applied++
	}

	a.maybeArmSnapshot()
	a.maybeRotateSnapshot()

	if actor.log.LastApplied() < actor.log.CommitIndex() {
		actor.reactorHandle.Post(a.tick)
	}
}

// handleInvokeFailure applies Options.OnInvokeFailure. Returns true if the
// applier loop should stop making progress this tick (the entry was not
// marked applied, so the next tick retries it).
func (a *applier) handleInvokeFailure(index uint64, err error) bool {
	actor := a.actor
	switch actor.options.OnInvokeFailure {
	case StepDown:
		log.Printf("raft: state machine invoke failed at index %d: %v; stepping down", index, err)
		actor.stepDown(actor.log.CurrentTerm())
		return true
	case SkipEntry:
		log.Printf("raft: state machine invoke failed at index %d: %v; skipping entry", index, err)
		return false
	default: // RetryIndefinitely
		log.Printf("raft: state machine invoke failed at index %d: %v; will retry", index, err)
		return true
	}
}

// maybeArmSnapshot captures a state-machine snapshot once last_applied has
// run a full SnapshotThreshold ahead of the currently installed snapshot.
// The captured snapshot is held pending, not installed yet: rotating it in
// immediately would compact away entries a slow follower still needs,
// forcing that follower onto InstallSnapshot far more than intended.
// maybeRotateSnapshot defers the actual compaction.
func (a *applier) maybeArmSnapshot() {
	actor := a.actor
	if a.armed {
		return
	}
	if actor.log.LastApplied() < actor.log.SnapshotIndex()+actor.options.SnapshotThreshold {
		return
	}
	payload, err := actor.stateMachine.Snapshot()
	if err != nil {
		log.Printf("raft: state machine snapshot capture failed: %v", err)
		return
	}
	index := actor.log.LastApplied()
	entry, ok := actor.log.At(index)
	var term uint64
	if ok {
		term = entry.Term
	} else if index == actor.log.SnapshotIndex() {
		term = actor.log.SnapshotTerm()
	}
	a.pendingIndex = index
	a.pendingTerm = term
	a.pendingPayload = payload
	a.armed = true
}

// maybeRotateSnapshot installs the pending snapshot into the log once
// commit_index has advanced another SnapshotThreshold/2 past the pending
// snapshot's index. This deferral, rather than rotating in as soon as the
// pending snapshot is captured, guarantees the log retains enough recent
// committed entries after compaction to serve slow followers via
// AppendEntries instead of falling back to InstallSnapshot.
func (a *applier) maybeRotateSnapshot() {
	if !a.armed {
		return
	}
	actor := a.actor
	if actor.log.CommitIndex() <= a.pendingIndex+actor.options.SnapshotThreshold/2 {
		return
	}
	actor.log.SetSnapshot(a.pendingIndex, a.pendingTerm, a.pendingPayload)
	a.armed = false
	a.pendingPayload = nil
}

// installLeaderSnapshot consumes a snapshot pushed by the leader via
// InstallSnapshot: the state machine is reset to the snapshot's image, and
// the log's own bookkeeping (commit_index, last_applied, the compacted
// prefix) is brought forward to match. leaderCommit is the leader's own
// commit_index at the time it sent the snapshot; it can run ahead of index
// when the follower is so far behind it needs several InstallSnapshot
// rounds, and must still be applied here rather than left at index.
func (a *applier) installLeaderSnapshot(index, term uint64, payload []byte, leaderCommit uint64) error {
	actor := a.actor
	if err := actor.stateMachine.Consume(payload); err != nil {
		return err
	}
	if existing, ok := actor.log.At(index); ok && existing.Term != term {
		// The tail beyond the snapshot boundary was built on a different
		// history than the leader's; discard it along with the compacted
		// prefix instead of keeping entries from a stale branch.
		actor.log.Truncate(index + 1)
	}
	actor.log.SetSnapshot(index, term, payload)
	actor.setCommitIndex(index)
	if leaderCommit > index {
		commit := leaderCommit
		if last := actor.log.LastIndex(); commit > last {
			commit = last
		}
		actor.setCommitIndex(commit)
	}
	actor.log.SetLastApplied(index)
	a.armed = false
	a.pendingPayload = nil
	return nil
}
