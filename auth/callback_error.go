package auth

import "fmt"

// Stage is a step of the callback state machine.
type Stage string

const (
	StageAwaitingCallback Stage = "AwaitingCallback"
	StageValidating       Stage = "Validating"
	StageExchanging       Stage = "Exchanging"
	StageAuthenticated    Stage = "Authenticated"
	StageFailed           Stage = "Failed"
)

// CallbackError records the stage a callback failed in. It unwraps to the
// taxonomy error, so errors.Is works on it directly.
type CallbackError struct {
	Stage Stage
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback failed while %s: %v", e.Stage, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
