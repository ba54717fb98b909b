package collab

import "fmt"

// LedgerError represents an invalid operation against the step ledger.
type LedgerError struct {
	Operation string
	StepID    string
	Message   string
	Err       error
}

func (e *LedgerError) Error() string {
	if e.StepID != "" {
		if e.Err != nil {
			return fmt.Sprintf("[ledger:%s] step %s: %s: %v", e.Operation, e.StepID, e.Message, e.Err)
		}
		return fmt.Sprintf("[ledger:%s] step %s: %s", e.Operation, e.StepID, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[ledger:%s] %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[ledger:%s] %s", e.Operation, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func newLedgerError(operation, stepID, message string, err error) *LedgerError {
	return &LedgerError{Operation: operation, StepID: stepID, Message: message, Err: err}
}

// GraphInvariantViolation reports a defective step graph: a dependency that
// names an unknown or later-declared step, a duplicate step identifier, or a
// reference index outside the dependency list. Builders are trusted code, so
// the ledger treats this as a programming defect and panics with it rather
// than returning it.
type GraphInvariantViolation struct {
	StepID  string
	Message string
}

func (e *GraphInvariantViolation) Error() string {
	return fmt.Sprintf("graph invariant violated at step %s: %s", e.StepID, e.Message)
}
