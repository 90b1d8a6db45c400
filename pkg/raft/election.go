package raft

// electionState tracks an in-flight candidacy. It is recreated fresh every
// time an election starts and disabled the moment it is superseded, by a
// timer re-fire, a step-down, or victory, so that vote replies arriving
// after that point are no-ops instead of mutating a candidacy that no
// longer exists.
type electionState struct {
	granted int
	active  bool
}

func newElectionState() *electionState {
	return &electionState{granted: 1, active: true}
}

func (e *electionState) disable() {
	e.active = false
}
