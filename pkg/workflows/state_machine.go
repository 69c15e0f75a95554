package workflows

// transitionKey identifies one edge of the document lifecycle
type transitionKey struct {
	from     Status
	action   Action
	decision Decision
}

// StateMachine enforces document status transitions
type StateMachine struct {
	transitions       map[transitionKey]Status
	approvalFinalizes bool
}

// NewStateMachine creates the canonical eTMF lifecycle. When approvalFinalizes
// is false an approved APPROVAL leaves the document in APPROVED and an explicit
// FINALIZE is needed to reach FINAL.
func NewStateMachine(approvalFinalizes bool) *StateMachine {
	approvedTarget := StatusApproved
	if approvalFinalizes {
		approvedTarget = StatusFinal
	}
	return &StateMachine{
		approvalFinalizes: approvalFinalizes,
		transitions: map[transitionKey]Status{
			{StatusDraft, ActionSubmitForReview, ""}:           StatusInReview,
			{StatusInReview, ActionReview, DecisionApproved}:   StatusApproved,
			{StatusInReview, ActionReview, DecisionRejected}:   StatusDraft,
			{StatusApproved, ActionApproval, DecisionApproved}: approvedTarget,
			{StatusApproved, ActionApproval, DecisionRejected}: StatusDraft,
			{StatusApproved, ActionFinalize, ""}:               StatusFinal,
			{StatusFinal, ActionArchive, ""}:                   StatusArchived,
		},
	}
}

// ApprovalFinalizes reports how an approved APPROVAL is resolved
func (sm *StateMachine) ApprovalFinalizes() bool {
	return sm.approvalFinalizes
}

// Target returns the status reached by applying action with decision to from
func (sm *StateMachine) Target(from Status, action Action, decision Decision) (Status, bool) {
	if !action.NeedsDecision() {
		decision = ""
	}
	to, ok := sm.transitions[transitionKey{from, action, decision}]
	return to, ok
}

// CanApply checks if action may be taken from the given status with any decision
func (sm *StateMachine) CanApply(from Status, action Action) bool {
	for key := range sm.transitions {
		if key.from == from && key.action == action {
			return true
		}
	}
	return false
}

// Sources returns the statuses an action can leave from, in lifecycle order
func (sm *StateMachine) Sources(action Action) []Status {
	var sources []Status
	for _, s := range AllStatuses() {
		if sm.CanApply(s, action) {
			sources = append(sources, s)
		}
	}
	return sources
}

// IsTerminal reports whether no transition leaves the status
func (sm *StateMachine) IsTerminal(s Status) bool {
	for key := range sm.transitions {
		if key.from == s {
			return false
		}
	}
	return true
}

// GetAllowedTransitions returns the distinct statuses reachable from a status
func (sm *StateMachine) GetAllowedTransitions(from Status) []Status {
	seen := make(map[Status]bool)
	allowed := []Status{}
	for _, s := range AllStatuses() {
		for key, to := range sm.transitions {
			if key.from == from && to == s && !seen[s] {
				seen[s] = true
				allowed = append(allowed, s)
			}
		}
	}
	return allowed
}
