package models

import "fmt"

// IssueState is the lifecycle state of a BookIssue
type IssueState string

const (
	StatePending  IssueState = "Pending"
	StateAccepted IssueState = "Accepted"
	StateDeclined IssueState = "Declined"
	StateRevoked  IssueState = "Revoked"
	StateReturned IssueState = "Returned"
)

// IssuedStates are the states counted as "issued" in reporting
var IssuedStates = []IssueState{StateAccepted, StateReturned, StateRevoked}

// transitions lists the allowed target states for every source state.
// Return is permitted from any state.
var transitions = map[IssueState][]IssueState{
	StatePending:  {StateAccepted, StateDeclined, StateReturned},
	StateAccepted: {StateRevoked, StateReturned},
	StateDeclined: {StateReturned},
	StateRevoked:  {StateReturned},
	StateReturned: {StateReturned},
}

// ParseIssueState converts a stored value into an IssueState
func ParseIssueState(s string) (IssueState, error) {
	st := IssueState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown issue state %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known state
func (s IssueState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s IssueState) CanTransitionTo(next IssueState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s IssueState) String() string {
	return string(s)
}
