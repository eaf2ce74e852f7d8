package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrEmptyWords           = fmt.Errorf("no words have been found")
	ErrMessageNotFound      = fmt.Errorf("message not found")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrUserNotFound         = fmt.Errorf("user not found")
	ErrSameParticipant      = fmt.Errorf("a conversation needs two distinct participants")
	ErrInvalidBody          = fmt.Errorf("invalid message body")
	ErrSubscriptionGone     = fmt.Errorf("push subscription is gone")
	ErrPushTransient        = fmt.Errorf("push delivery failed")
	ErrNoSubscriptions      = fmt.Errorf("no push subscription registered")
	ErrUnknownEvent         = fmt.Errorf("unknown event")
	ErrInvalidPayload       = fmt.Errorf("invalid payload")
	ErrNotParticipant       = fmt.Errorf("user is not a participant of the conversation")
	ErrOutboxFull           = fmt.Errorf("session outbox is full")
	ErrSessionClosed        = fmt.Errorf("session is closed")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
