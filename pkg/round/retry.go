package round

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/prompt"
	"assistant/pkg/providers"
	"assistant/pkg/session"
)

var (
	errInactive    = errors.New("session is no longer active")
	errTimedOut    = errors.New("automation timed out")
	errInterrupted = errors.New("round interrupted")
)

// callAIWithRetry queries the provider. A CHAT gets one attempt after a
// network check. An AUTOMATION retries without bound until the call
// succeeds, the session stops being active, the watchdog fires or the
// round is interrupted.
func (r *run) callAIWithRetry(ctx context.Context, data *prompt.Data) (*providers.Response, error) {
	deps := r.exec.deps

	if r.sess.Type != session.TypeAutomation {
		if !deps.Network.Available(ctx) {
			return nil, providers.ErrNetworkUnavailable
		}
		return r.provider.Query(ctx, data)
	}

	for attempt := 1; ; attempt++ {
		if err := r.retryCheck(ctx); err != nil {
			return nil, err
		}

		if !deps.Network.Available(ctx) {
			if !r.waitingNetwork {
				r.waitingNetwork = true
				r.setState(ctx, session.StateWaitingNetwork)
			}
			r.recordNetworkError(ctx)
			r.log.Info("Network unavailable, waiting",
				zap.Int("attempt", attempt),
				zap.Duration("delay", r.retry))
		} else {
			if r.waitingNetwork {
				r.waitingNetwork = false
				r.setState(ctx, session.StateProcessing)
			}
			resp, err := r.provider.Query(ctx, data)
			if err == nil {
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.recordNetworkError(ctx)
			c := providers.ClassifyError(err)
			r.log.Warn("Provider call failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("reason", string(c.Reason)),
				zap.Duration("delay", r.retry),
				zap.Error(err))
		}

		if err := r.sleep(ctx, r.retry); err != nil {
			return nil, err
		}
	}
}

func (r *run) retryCheck(ctx context.Context) error {
	switch {
	case !r.stillActive():
		return errInactive
	case r.timedOut.Load():
		return errTimedOut
	case r.exec.deps.Interactions.IsInterruptionRequested():
		return errInterrupted
	default:
		return ctx.Err()
	}
}

// sleep waits for d. The watchdog and an interruption cut it short; the
// next retryCheck reports why.
func (r *run) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.timeout:
	case <-r.exec.deps.Interactions.Interrupted():
	case <-timer.C:
	}
	return nil
}

func (r *run) recordNetworkError(ctx context.Context) {
	if err := r.exec.deps.Store.RecordNetworkError(context.WithoutCancel(ctx), r.sess.ID, r.exec.now()); err != nil {
		r.log.Warn("Failed to record network error", zap.Error(err))
	}
}
