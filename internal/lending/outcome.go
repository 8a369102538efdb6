package lending

import (
	"library-manager/internal/apperr"
	"library-manager/internal/models"
)

// OutcomeKind classifies the result of a decision on a request or issue
type OutcomeKind string

const (
	// OutcomeApplied means the requested transition happened
	OutcomeApplied OutcomeKind = "applied"
	// OutcomeAutoDeclined means an accept was turned into a decline by the issue cap
	OutcomeAutoDeclined OutcomeKind = "auto_declined"
	// OutcomeInvalidTransition means nothing changed because the issue was in the wrong state
	OutcomeInvalidTransition OutcomeKind = "invalid_transition"
)

// Outcome is the informational result of a lending decision
type Outcome struct {
	Kind    OutcomeKind       `json:"outcome"`
	Issue   *models.BookIssue `json:"issue,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Changed reports whether the ledger was modified
func (o Outcome) Changed() bool {
	return o.Kind != OutcomeInvalidTransition
}

// Err returns ErrInvalidStateTransition for a no-op outcome and nil otherwise
func (o Outcome) Err() error {
	if o.Kind == OutcomeInvalidTransition {
		return apperr.InvalidTransition("%s", o.Message)
	}
	return nil
}
