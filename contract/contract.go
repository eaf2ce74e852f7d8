//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbox of one live session.
// Consume must not block: it enqueues and returns.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Session is a registered sink together with its identity.
type Session struct {
	ID   domain.SessionID
	Sink EventSink
}

type IPresence interface {
	SetOnline(user domain.UserID) domain.Presence
	SetOffline(user domain.UserID) time.Time
	IsOnline(user domain.UserID) bool
	Get(user domain.UserID) domain.Presence
}

type RegistryStats struct {
	OnlineUsers int
	Sessions    int
}

type IRegistry interface {
	Register(ctx context.Context, user domain.UserID, session Session)
	Unregister(ctx context.Context, user domain.UserID, sessionID domain.SessionID)
	ActiveSessions(user domain.UserID) []Session
	Emit(ctx context.Context, user domain.UserID, evt event.DomainEvent) int
	Broadcast(ctx context.Context, except domain.UserID, evt event.DomainEvent)
	Stats() RegistryStats
}

// PushSender delivers one notification to one subscription.
// Implementations wrap errors.ErrSubscriptionGone when the provider
// reports the endpoint permanently invalid.
type PushSender interface {
	Send(ctx context.Context, sub domain.PushSubscription, n domain.Notification) error
}

type DispatchReport struct {
	Attempted int
	Delivered int
	Pruned    int
	Failed    int
}

type IPushDispatcher interface {
	Dispatch(ctx context.Context, recipient domain.UserID, n domain.Notification) DispatchReport
	Test(ctx context.Context, user domain.UserID) (DispatchReport, error)
}
