package runtime

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"dm-relay/observability"
	"dm-relay/repositories"
	"log/slog"
	"sync"
	"time"
)

const DefaultPushTimeout = 10 * time.Second

var testNotification = domain.Notification{
	Title: "Test notification",
	Body:  "Testing all devices",
	URL:   "/",
}

// PushDispatcher fans a notification out to every registered device of a
// user. Each subscription gets its own goroutine and its own deadline:
// a slow or failing device never holds back the others. Nothing is retried.
type PushDispatcher struct {
	log     *slog.Logger
	users   repositories.IUserRepository
	sender  contract.PushSender
	metrics *observability.Metrics
	timeout time.Duration
}

var _ contract.IPushDispatcher = (*PushDispatcher)(nil)

func NewPushDispatcher(
	log *slog.Logger,
	users repositories.IUserRepository,
	sender contract.PushSender,
	metrics *observability.Metrics,
	timeout time.Duration,
) *PushDispatcher {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	return &PushDispatcher{
		log:     log,
		users:   users,
		sender:  sender,
		metrics: metrics,
		timeout: timeout,
	}
}

type pushOutcome int

const (
	outcomeDelivered pushOutcome = iota
	outcomePruned
	outcomeFailed
)

// Dispatch blocks until every attempt has finished or timed out.
func (p *PushDispatcher) Dispatch(ctx context.Context, recipient domain.UserID, n domain.Notification) contract.DispatchReport {
	subs, err := p.users.PushSubscriptions(recipient)
	if err != nil {
		p.log.Warn("Unable to load push subscriptions", "user_id", recipient, "error", err)
		return contract.DispatchReport{}
	}
	if len(subs) == 0 {
		p.log.Debug("No push subscription", "user_id", recipient)
		return contract.DispatchReport{}
	}

	outcomes := make(chan pushOutcome, len(subs))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.PushSubscription) {
			defer wg.Done()
			outcomes <- p.deliver(ctx, recipient, sub, n)
		}(sub)
	}
	wg.Wait()
	close(outcomes)

	report := contract.DispatchReport{Attempted: len(subs)}
	for outcome := range outcomes {
		switch outcome {
		case outcomeDelivered:
			report.Delivered++
		case outcomePruned:
			report.Pruned++
		case outcomeFailed:
			report.Failed++
		}
	}
	p.log.Debug("Push dispatched",
		"user_id", recipient,
		"attempted", report.Attempted,
		"delivered", report.Delivered,
		"pruned", report.Pruned,
		"failed", report.Failed)
	return report
}

// Test sends a test notification to every device of user.
func (p *PushDispatcher) Test(ctx context.Context, user domain.UserID) (contract.DispatchReport, error) {
	subs, err := p.users.PushSubscriptions(user)
	if err != nil {
		return contract.DispatchReport{}, err
	}
	if len(subs) == 0 {
		return contract.DispatchReport{}, errors.ErrNoSubscriptions
	}
	return p.Dispatch(ctx, user, testNotification), nil
}

func (p *PushDispatcher) deliver(ctx context.Context, user domain.UserID, sub domain.PushSubscription, n domain.Notification) pushOutcome {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.sender.Send(ctx, sub, n)
	switch {
	case err == nil:
		p.metrics.PushAttempt(observability.PushDelivered)
		return outcomeDelivered
	case errors.Is(err, errors.ErrSubscriptionGone):
		p.metrics.PushAttempt(observability.PushPruned)
		removed, rmErr := p.users.RemovePushSubscription(user, sub.Endpoint)
		if rmErr != nil {
			p.log.Error("Failed to prune push subscription",
				"user_id", user, "endpoint", sub.Endpoint, "error", rmErr)
			return outcomeFailed
		}
		p.log.Info("Pruned expired push subscription",
			"user_id", user, "endpoint", sub.Endpoint, "removed", removed)
		return outcomePruned
	default:
		p.metrics.PushAttempt(observability.PushTransient)
		p.log.Warn("Push delivery failed",
			"user_id", user, "endpoint", sub.Endpoint, "error", err)
		return outcomeFailed
	}
}
