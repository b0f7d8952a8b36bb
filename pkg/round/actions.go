package round

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"assistant/pkg/session"
)

// runActions validates and executes one batch of action commands.
func (r *run) runActions(ctx context.Context, t *turn) (Outcome, error) {
	msg := t.parsed.Message
	cmds := msg.ActionCommands

	res, err := r.exec.deps.Validator.ShouldValidate(ctx, cmds, r.sess.ID, t.messageID, msg.ValidationRequest)
	if err != nil {
		return OutcomeError, fmt.Errorf("resolve validation: %w", err)
	}

	if res.Required() {
		fallback, err := r.storeSystem(ctx, session.SystemInteractionPending,
			fmt.Sprintf("Waiting for the user to confirm %d action(s): %s", len(cmds), res.Context.Reason), true)
		if err != nil {
			return OutcomeError, err
		}

		r.setState(ctx, session.StateWaitingValidation)
		wctx, cancel := r.userWait(ctx)
		approved, err := r.exec.deps.Interactions.WaitForUserValidation(wctx, res.Context)
		cancel()
		r.setState(ctx, session.StateProcessing)
		if err != nil {
			return r.waitFailed(ctx, err)
		}

		r.deleteFallback(ctx, fallback)
		r.exec.active.UpdateActivityTimestamp()

		if !approved {
			r.log.Info("User refused the action batch", zap.Int("actions", len(cmds)))
			if _, err := r.exec.deps.Messages.CancelActionCommands(ctx, r.sess.ID, cmds, "refused by the user"); err != nil {
				return OutcomeError, fmt.Errorf("record refused actions: %w", err)
			}
			r.end(ctx, session.EndReasonCancelled)
			return OutcomeCancelled, nil
		}
	}

	if r.exec.deps.Interactions.IsInterruptionRequested() {
		return r.interrupt(ctx)
	}

	sm, err := r.exec.deps.Messages.ExecuteActionCommands(ctx, r.sess.ID, cmds)
	if err != nil {
		return OutcomeError, fmt.Errorf("execute action commands: %w", err)
	}

	if sm.AllSucceeded() {
		r.actionRetries = 0
		if msg.PostText != "" {
			if _, err := r.exec.deps.Messages.StoreAIText(ctx, r.sess.ID, msg.PostText, session.TokenUsage{}); err != nil {
				return OutcomeError, fmt.Errorf("store post text: %w", err)
			}
		}
		// Automations keep control until they signal completion.
		if r.sess.Type == session.TypeAutomation || msg.KeepControl {
			return "", nil
		}
		return OutcomeFinished, nil
	}

	r.actionRetries++
	r.log.Warn("Action batch failed",
		zap.Int("retries", r.actionRetries),
		zap.String("summary", sm.Summary))
	if r.actionRetries > r.limits.MaxActionRetries {
		return r.limitReached(ctx, fmt.Sprintf("Reached the limit of %d action retries.", r.limits.MaxActionRetries))
	}
	return "", nil
}
