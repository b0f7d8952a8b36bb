package round

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/parser"
	"assistant/pkg/providers"
	"assistant/pkg/session"
)

// run is the state of one round.
type run struct {
	exec     *Executor
	sess     *session.Session
	provider providers.Provider
	limits   session.Limits
	retry    time.Duration
	log      *logger.Logger

	timeout  chan struct{}
	timedOut atomic.Bool

	roundtrips     int
	formatErrors   int
	dataQueries    int
	actionRetries  int
	waitingNetwork bool
}

// turn is one persisted provider response.
type turn struct {
	parsed    parser.Result
	messageID string
}

func (r *run) fireWatchdog() {
	if r.timedOut.CompareAndSwap(false, true) {
		r.log.Warn("Automation exceeded its maximum duration")
		close(r.timeout)
	}
}

// userWait derives the context of a wait for the user. The watchdog
// cancels it so an unattended automation cannot outlive its duration.
func (r *run) userWait(ctx context.Context) (context.Context, context.CancelFunc) {
	wctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-r.timeout:
			cancel(errTimedOut)
		case <-wctx.Done():
		}
	}()
	return wctx, func() { cancel(context.Canceled) }
}

// loop calls the provider until the response needs no further work. A
// non-empty outcome from a step ends the loop.
func (r *run) loop(ctx context.Context) (Outcome, error) {
	for {
		if outcome, err := r.checkpoint(ctx); outcome != "" || err != nil {
			return outcome, err
		}

		if r.roundtrips >= r.limits.MaxAutonomousRoundtrips {
			return r.limitReached(ctx, fmt.Sprintf("Reached the limit of %d autonomous roundtrips.", r.limits.MaxAutonomousRoundtrips))
		}
		r.roundtrips++

		t, outcome, err := r.query(ctx)
		if outcome != "" || err != nil {
			return outcome, err
		}

		if outcome, err := r.handle(ctx, t); outcome != "" || err != nil {
			return outcome, err
		}
	}
}

// checkpoint runs the checks made before every provider call.
func (r *run) checkpoint(ctx context.Context) (Outcome, error) {
	if !r.stillActive() {
		r.log.Info("Session is no longer active, round aborted")
		return OutcomeAborted, nil
	}
	if r.timedOut.Load() {
		return r.timedOutStop(ctx)
	}
	if r.exec.deps.Interactions.IsInterruptionRequested() {
		return r.interrupt(ctx)
	}
	if err := ctx.Err(); err != nil {
		return OutcomeAborted, err
	}
	return "", nil
}

// query sends the current conversation and persists the response. The
// response of an interrupted round is discarded.
func (r *run) query(ctx context.Context) (*turn, Outcome, error) {
	data, err := r.exec.deps.Prompts.Build(ctx, r.sess.ID)
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := r.callAIWithRetry(ctx, data)
	if err != nil {
		outcome, err := r.queryFailed(ctx, err)
		return nil, outcome, err
	}

	if r.exec.deps.Interactions.IsInterruptionRequested() {
		r.log.Info("Discarding provider response of an interrupted round")
		outcome, err := r.interrupt(ctx)
		return nil, outcome, err
	}
	if !r.stillActive() {
		return nil, OutcomeAborted, nil
	}

	parsed := r.exec.deps.Parser.Parse(resp.Content)
	var msg *session.Message
	if parsed.OK() {
		msg, err = r.exec.deps.Messages.StoreAIMessage(ctx, r.sess.ID, parsed.Message, parsed.JSON, resp.Usage)
	} else {
		content := resp.Content
		if content == "" {
			content = "(empty response)"
		}
		msg, err = r.exec.deps.Messages.StoreAIText(ctx, r.sess.ID, content, resp.Usage)
	}
	if err != nil {
		return nil, OutcomeError, fmt.Errorf("store provider response: %w", err)
	}
	r.exec.active.UpdateActivityTimestamp()

	r.log.Debug("Provider response stored",
		zap.String("message_id", msg.ID),
		zap.Int("roundtrips", r.roundtrips),
		zap.Bool("format_error", !parsed.OK()))
	return &turn{parsed: parsed, messageID: msg.ID}, "", nil
}

func (r *run) queryFailed(ctx context.Context, err error) (Outcome, error) {
	switch {
	case errors.Is(err, errInactive):
		return OutcomeAborted, nil
	case errors.Is(err, errTimedOut):
		return r.timedOutStop(ctx)
	case errors.Is(err, errInterrupted):
		return r.interrupt(ctx)
	case ctx.Err() != nil:
		return OutcomeAborted, ctx.Err()
	}

	c := providers.ClassifyError(err)
	r.log.Warn("Provider call failed",
		zap.String("reason", string(c.Reason)),
		zap.Bool("retriable", c.Retriable),
		zap.Error(err))
	summary := fmt.Sprintf("The provider call failed (%s): %s", c.Reason, c.Message)
	if _, serr := r.storeSystem(ctx, session.SystemNetworkError, summary, true); serr != nil {
		return OutcomeError, serr
	}
	return OutcomeNetworkError, fmt.Errorf("query provider: %w", err)
}

// handle dispatches one parsed response. An empty outcome means the
// provider is called again.
func (r *run) handle(ctx context.Context, t *turn) (Outcome, error) {
	if !t.parsed.OK() {
		return r.formatError(ctx, t.parsed.FormatError)
	}
	r.formatErrors = 0

	msg := t.parsed.Message
	switch {
	case msg.Completed:
		r.end(ctx, session.EndReasonCompleted)
		return OutcomeCompleted, nil
	case msg.CommunicationModule != nil:
		return r.communicate(ctx, msg.CommunicationModule)
	case len(msg.DataCommands) > 0:
		return r.queryData(ctx, msg.DataCommands)
	case len(msg.ActionCommands) > 0:
		return r.runActions(ctx, t)
	case r.sess.Type == session.TypeAutomation:
		_, err := r.storeSystem(ctx, session.SystemContinueReminder,
			"Continue the task with data or action commands, or set completed to true when it is done.", false)
		if err != nil {
			return OutcomeError, err
		}
		return "", nil
	default:
		return OutcomeFinished, nil
	}
}

func (r *run) formatError(ctx context.Context, description string) (Outcome, error) {
	r.formatErrors++
	r.log.Warn("Provider response has a format error",
		zap.Int("format_errors", r.formatErrors),
		zap.String("error", description))

	if r.formatErrors > r.limits.MaxFormatErrorRetries {
		return r.limitReached(ctx, fmt.Sprintf("Reached the limit of %d format error retries.", r.limits.MaxFormatErrorRetries))
	}

	summary := fmt.Sprintf("Your last response could not be used: %s. Reply with a single JSON object in the required format.", description)
	if _, err := r.storeSystem(ctx, session.SystemFormatError, summary, false); err != nil {
		return OutcomeError, err
	}
	return "", nil
}

func (r *run) queryData(ctx context.Context, cmds []session.DataCommand) (Outcome, error) {
	r.dataQueries++
	if r.dataQueries > r.limits.MaxDataQueryIterations {
		return r.limitReached(ctx, fmt.Sprintf("Reached the limit of %d data query iterations.", r.limits.MaxDataQueryIterations))
	}

	sm, err := r.exec.deps.Messages.ExecuteDataCommands(ctx, r.sess.ID, cmds)
	if err != nil {
		return OutcomeError, fmt.Errorf("execute data commands: %w", err)
	}
	r.actionRetries = 0
	r.log.Debug("Data commands executed",
		zap.Int("iteration", r.dataQueries),
		zap.String("summary", sm.Summary))
	return "", nil
}

// communicate shows a communication module and waits for the user's
// answer. The fallback message stays when the wait is cancelled.
func (r *run) communicate(ctx context.Context, module *session.CommunicationModule) (Outcome, error) {
	fallback, err := r.storeSystem(ctx, session.SystemInteractionPending,
		fmt.Sprintf("Waiting for the user to answer %q.", module.Type), true)
	if err != nil {
		return OutcomeError, err
	}

	r.setState(ctx, session.StateWaitingUserResponse)
	wctx, cancel := r.userWait(ctx)
	resp, err := r.exec.deps.Interactions.WaitForUserResponse(wctx, r.sess.ID, module)
	cancel()
	r.setState(ctx, session.StateProcessing)
	if err != nil {
		return r.waitFailed(ctx, err)
	}

	r.deleteFallback(ctx, fallback)
	r.exec.active.UpdateActivityTimestamp()

	if r.exec.deps.Interactions.IsInterruptionRequested() {
		return r.interrupt(ctx)
	}
	if _, err := r.exec.deps.Messages.StoreUserRich(ctx, r.sess.ID, richAnswer(module, resp)); err != nil {
		return OutcomeError, fmt.Errorf("store user answer: %w", err)
	}
	return "", nil
}

func (r *run) waitFailed(ctx context.Context, err error) (Outcome, error) {
	if !r.stillActive() {
		return OutcomeAborted, nil
	}
	switch {
	case r.timedOut.Load() && ctx.Err() == nil:
		return r.timedOutStop(ctx)
	case errors.Is(err, interaction.ErrInterrupted):
		return r.interrupt(ctx)
	case errors.Is(err, interaction.ErrCancelled):
		r.log.Info("User cancelled the interaction")
		r.end(ctx, session.EndReasonCancelled)
		return OutcomeCancelled, nil
	case ctx.Err() != nil:
		return OutcomeAborted, ctx.Err()
	default:
		return OutcomeError, err
	}
}

func (r *run) limitReached(ctx context.Context, summary string) (Outcome, error) {
	r.log.Warn("Round limit reached", zap.String("limit", summary), zap.Int("roundtrips", r.roundtrips))
	if _, err := r.storeSystem(ctx, session.SystemLimitReached, summary, false); err != nil {
		return OutcomeError, err
	}
	return OutcomeLimitReached, nil
}

func (r *run) timedOutStop(ctx context.Context) (Outcome, error) {
	ai := r.exec.deps.Settings()
	summary := fmt.Sprintf("The automation exceeded its maximum duration of %s and was stopped.", ai.AutomationMaxSessionDuration())
	if _, err := r.storeSystem(ctx, session.SystemTimeout, summary, false); err != nil {
		return OutcomeError, err
	}
	r.end(ctx, session.EndReasonTimeout)
	return OutcomeTimeout, nil
}

func (r *run) interrupt(ctx context.Context) (Outcome, error) {
	if !r.stillActive() {
		return OutcomeAborted, nil
	}
	r.log.Info("Round interrupted")
	if _, err := r.storeSystem(context.WithoutCancel(ctx), session.SystemInterrupted, "The round was interrupted by the user.", false); err != nil {
		return OutcomeError, err
	}
	r.end(ctx, session.EndReasonInterrupted)
	return OutcomeInterrupted, nil
}

func (r *run) stillActive() bool {
	return r.exec.active.ActiveSessionID() == r.sess.ID
}

func (r *run) storeSystem(ctx context.Context, t session.SystemMessageType, summary string, exclude bool) (*session.Message, error) {
	msg, err := r.exec.deps.Messages.StoreSystem(ctx, r.sess.ID, &session.SystemMessage{Type: t, Summary: summary}, exclude)
	if err != nil {
		return nil, fmt.Errorf("store %s message: %w", t, err)
	}
	return msg, nil
}

func (r *run) deleteFallback(ctx context.Context, m *session.Message) {
	if err := r.exec.deps.Messages.Delete(ctx, m.ID); err != nil {
		r.log.Warn("Failed to delete pending interaction message", zap.String("message_id", m.ID), zap.Error(err))
	}
}

// end records an end reason. Only AUTOMATION sessions carry one.
func (r *run) end(ctx context.Context, reason session.EndReason) {
	if r.sess.Type != session.TypeAutomation {
		return
	}
	if err := r.exec.deps.Store.SetEndReason(context.WithoutCancel(ctx), r.sess.ID, &reason); err != nil {
		r.log.Warn("Failed to set end reason", zap.String("end_reason", string(reason)), zap.Error(err))
	}
}

func (r *run) setState(ctx context.Context, state session.State) {
	if err := r.exec.deps.Store.UpdateState(context.WithoutCancel(ctx), r.sess.ID, state); err != nil {
		r.log.Warn("Failed to update session state", zap.String("state", string(state)), zap.Error(err))
	}
}

// richAnswer turns a user's answer into rich content. Structured fields
// become attachments in key order.
func richAnswer(module *session.CommunicationModule, resp *interaction.Response) *session.RichContent {
	rc := &session.RichContent{ModuleType: module.Type}
	if resp == nil {
		return rc
	}
	rc.Text = resp.Text

	keys := make([]string, 0, len(resp.Data))
	for k := range resp.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rc.Attachments = append(rc.Attachments, session.Attachment{
			Kind:  "field",
			Ref:   k,
			Label: fmt.Sprint(resp.Data[k]),
		})
	}
	return rc
}
