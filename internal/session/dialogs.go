// internal/session/dialogs.go
package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// The dialog bridge answers engine-originated alert/confirm/prompt requests
// from scoped, pre-registered expectations. A dialog firing with no matching
// expectation is a programming error in the calling script, not a
// recoverable condition.

// ConfirmAnswer produces the answer to a javascript confirm(). Use
// StaticConfirm for a fixed value; the callable form is evaluated at dialog
// time.
type ConfirmAnswer func() bool

// StaticConfirm returns a ConfirmAnswer that always yields v.
func StaticConfirm(v bool) ConfirmAnswer {
	return func() bool { return v }
}

// PromptAnswer produces the answer to a javascript prompt().
type PromptAnswer func() string

// StaticPrompt returns a PromptAnswer that always yields v.
func StaticPrompt(v string) PromptAnswer {
	return func() string { return v }
}

// Confirm registers answer for the duration of fn and runs it. The
// expectation is unconditionally cleared on the way out, panics included, so
// it can never leak past the scope that declared it.
func (s *Session) Confirm(answer ConfirmAnswer, fn func() error) error {
	s.confirmExpected = answer
	defer func() { s.confirmExpected = nil }()
	return fn()
}

// Prompt registers answer for the duration of fn and runs it, with the same
// clear-on-exit guarantee as Confirm.
func (s *Session) Prompt(answer PromptAnswer, fn func() error) error {
	s.promptExpected = answer
	defer func() { s.promptExpected = nil }()
	return fn()
}

// PopupMessages returns the session's append-only transcript of every
// alert/confirm/prompt message raised so far.
func (s *Session) PopupMessages() []string {
	return s.popupMessages
}

// ClearAlert clears the last-alert slot.
func (s *Session) ClearAlert() {
	s.alert = nil
}

// WaitForAlert blocks until an alert fires, then returns its message and the
// drained resource buffer. The last-alert slot is cleared.
func (s *Session) WaitForAlert(timeout time.Duration) (string, []*Resource, error) {
	if err := s.WaitFor(func() bool { return s.alert != nil }, "user has not been alerted", timeout); err != nil {
		return "", nil, err
	}
	msg := *s.alert
	s.alert = nil
	return msg, s.releaseResources(), nil
}

func (s *Session) appendPopupMessage(message string) {
	s.popupMessages = append(s.popupMessages, message)
}

// onAlert records the message; alerts are informational and never block.
func (s *Session) onAlert(message string) {
	s.alert = &message
	s.appendPopupMessage(message)
	s.logger.Info("alert", zap.String("message", message))
}

func (s *Session) onConfirm(message string) (bool, error) {
	if s.confirmExpected == nil {
		return false, &ConfigurationError{Reason: fmt.Sprintf("you must specify a value to confirm %q", message)}
	}
	s.appendPopupMessage(message)
	s.logger.Info("confirm", zap.String("message", message))
	return s.confirmExpected(), nil
}

func (s *Session) onPrompt(message, _ string) (string, error) {
	if s.promptExpected == nil {
		return "", &ConfigurationError{Reason: fmt.Sprintf("you must specify a value for prompt %q", message)}
	}
	s.appendPopupMessage(message)
	s.logger.Info("prompt", zap.String("message", message))
	value := s.promptExpected()
	if value == "" {
		s.logger.Warn("Prompt filled with empty string", zap.String("message", message))
	}
	return value, nil
}
