package integration

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/logging"
)

// RetryIntegration retries the delivery of each event a fixed number of
// times with a constant interval.
type RetryIntegration struct {
	next     Integration
	attempts int
	interval time.Duration
}

// NewRetryIntegration wraps the given integration. attempts is the total
// number of delivery attempts per event.
func NewRetryIntegration(next Integration, attempts int, interval time.Duration) *RetryIntegration {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryIntegration{
		next:     next,
		attempts: attempts,
		interval: interval,
	}
}

// SendUplinkEvent sends the uplink event.
func (i *RetryIntegration) SendUplinkEvent(ctx context.Context, pl UplinkEvent) error {
	return i.retry(ctx, EventUp, func() error {
		return i.next.SendUplinkEvent(ctx, pl)
	})
}

// SendJoinEvent sends the join event.
func (i *RetryIntegration) SendJoinEvent(ctx context.Context, pl JoinEvent) error {
	return i.retry(ctx, EventJoin, func() error {
		return i.next.SendJoinEvent(ctx, pl)
	})
}

// Close closes the wrapped integration.
func (i *RetryIntegration) Close() error {
	return i.next.Close()
}

func (i *RetryIntegration) retry(ctx context.Context, event string, f func() error) error {
	var attempt int
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(i.interval), uint64(i.attempts-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		attempt++
		err := f()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"event":   event,
				"attempt": attempt,
				"ctx_id":  ctx.Value(logging.ContextIDKey),
			}).Warning("integration: delivery attempt failed")
		}
		return err
	}, b)
	if err != nil {
		deliveryCounter(event, "dropped").Inc()
		return errors.Wrapf(err, "deliver %s event error (attempts: %d)", event, attempt)
	}

	deliveryCounter(event, "ok").Inc()
	return nil
}
