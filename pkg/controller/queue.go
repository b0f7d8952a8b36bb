package controller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/bus"
	"assistant/pkg/session"
)

// enqueueLocked appends q and returns its 1-based position. A session that
// is already queued keeps its entry.
func (c *Controller) enqueueLocked(q session.QueuedSession) int {
	for i, existing := range c.queue {
		if existing.SessionID == q.SessionID {
			return i + 1
		}
	}
	c.queue = append(c.queue, q)
	return len(c.queue)
}

func (c *Controller) removeQueuedLocked(match func(session.QueuedSession) bool) {
	kept := c.queue[:0]
	for _, q := range c.queue {
		if !match(q) {
			kept = append(kept, q)
		}
	}
	for i := len(kept); i < len(c.queue); i++ {
		c.queue[i] = session.QueuedSession{}
	}
	c.queue = kept
}

// RemoveFromQueue drops a queued session. It reports whether it was queued.
func (c *Controller) RemoveFromQueue(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.queue)
	c.removeQueuedLocked(func(q session.QueuedSession) bool { return q.SessionID == sessionID })
	return len(c.queue) != before
}

// selectNextLocked returns the index of the entry to activate next: the
// queued CHAT if any, else the AUTOMATION with the earliest scheduled time.
// Entries without a scheduled time sort last; ties keep queue order.
func (c *Controller) selectNextLocked() int {
	best := -1
	for i, q := range c.queue {
		if q.Type == session.TypeChat {
			return i
		}
		if best < 0 || scheduledBefore(q.ScheduledExecutionTime, c.queue[best].ScheduledExecutionTime) {
			best = i
		}
	}
	return best
}

func scheduledBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

// newerInstanceLocked reports whether the queue holds another entry of the
// same automation that is newer than q.
func (c *Controller) newerInstanceLocked(q session.QueuedSession) bool {
	for _, other := range c.queue {
		if other.SessionID == q.SessionID || other.AutomationID != q.AutomationID {
			continue
		}
		if isNewer(other, q) {
			return true
		}
	}
	return false
}

func isNewer(a, b session.QueuedSession) bool {
	if a.ScheduledExecutionTime != nil && b.ScheduledExecutionTime != nil &&
		!a.ScheduledExecutionTime.Equal(*b.ScheduledExecutionTime) {
		return a.ScheduledExecutionTime.After(*b.ScheduledExecutionTime)
	}
	return a.EnqueuedAt.After(b.EnqueuedAt)
}

// processNextLocked activates the next queued session when nothing is
// active.
func (c *Controller) processNextLocked() {
	for c.activeID == "" && len(c.queue) > 0 {
		idx := c.selectNextLocked()
		next := c.queue[idx]

		if next.Type == session.TypeAutomation && next.AutomationID != "" &&
			c.automations != nil && c.automations.DismissOlderInstances(next.AutomationID) &&
			c.newerInstanceLocked(next) {
			c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
			c.dismissLocked(next)
			continue
		}

		c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
		c.activateLocked(next)
	}
}

func (c *Controller) dismissLocked(q session.QueuedSession) {
	c.log.Info("Older automation instance dismissed",
		zap.String("session_id", q.SessionID),
		zap.String("automation_id", q.AutomationID))

	c.publish(bus.TopicSessionDismissed, q.SessionID, map[string]any{"automation_id": q.AutomationID})

	id := q.SessionID
	c.persist.submit("dismiss", func(ctx context.Context) error {
		err := c.store.SetEndReason(ctx, id, session.EndReasonPtr(session.EndReasonCancelled))
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	})
}

func (c *Controller) activateLocked(q session.QueuedSession) {
	c.activeID = q.SessionID
	c.activeType = q.Type
	c.activeAutomationID = q.AutomationID
	c.activeScheduled = q.ScheduledExecutionTime
	c.lastActivity = c.now()
	c.notifyLocked()

	id := q.SessionID
	c.persist.submit("activate", func(ctx context.Context) error {
		return c.store.SetActive(ctx, id)
	})

	c.publish(bus.TopicSessionActivated, id, map[string]any{"type": string(q.Type)})
	c.log.Info("Session activated", zap.String("session_id", id), zap.String("type", string(q.Type)))

	for _, fn := range c.onActivated {
		fn(id, q.Type)
	}

	if q.Type == session.TypeAutomation {
		c.startAutomationRoundLocked(id)
	}
}

// startAutomationRoundLocked runs the automation's round in the background
// and closes the session once the round ends.
func (c *Controller) startAutomationRoundLocked(sessionID string) {
	runner := c.runner
	if runner == nil {
		c.log.Warn("No round runner set, automation stays idle", zap.String("session_id", sessionID))
		return
	}
	if c.ctx.Err() != nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for c.ActiveSessionID() == sessionID {
			err := runner.ExecuteAIRound(c.ctx, session.RoundReasonAutomationStart)
			if !errors.Is(err, session.ErrRoundInProgress) {
				if err != nil {
					c.log.Warn("Automation round failed", zap.String("session_id", sessionID), zap.Error(err))
				}
				break
			}
			// The previous session's round is still unwinding.
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.roundRetryDelay):
			}
		}

		if c.ctx.Err() != nil {
			return
		}
		c.CloseSessionIfActive(sessionID, nil)
	}()
}
