package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStepBlocked   = errors.New("step is blocked by a preceding automatic step")
	ErrAutomaticStep = errors.New("automatic steps cannot be resolved by direct action")
)

// ValidationError carries a message meant to be shown to the CRM user as-is.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SendError is a non-2xx answer from the notification send endpoint.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("send endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("send endpoint returned status %d: %s", e.StatusCode, e.Message)
}

// DispatchError reports a notification failure after the step transition was
// committed. Record holds the committed progress record.
type DispatchError struct {
	Record ProgressRecord
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("step %s completed but email dispatch failed: %v", e.Record.StepCode, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func errStepUnknown(code string) error {
	return &ValidationError{Code: "step_unknown", Message: fmt.Sprintf("Étape introuvable : %s", code)}
}

func errNoTemplate(code string) error {
	return &ValidationError{Code: "no_template", Message: fmt.Sprintf("Aucun template email configuré pour l'étape %s", code)}
}

func errEmailDisabled(code string) error {
	return &ValidationError{Code: "email_disabled", Message: fmt.Sprintf("L'envoi d'email n'est pas activé pour l'étape %s", code)}
}

func errProgressMissing(lotID, code string) error {
	return fmt.Errorf("progress record for lot %s step %s: %w", lotID, code, ErrNotFound)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
