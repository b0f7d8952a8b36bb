package controller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/bus"
	"assistant/pkg/session"
)

// RequestSessionControl asks for sessionID to become the active session.
// A CHAT always preempts a CHAT. A CHAT and an AUTOMATION preempt each
// other only when the active one has been really inactive for longer than
// the eviction threshold; otherwise the request is queued.
func (c *Controller) RequestSessionControl(sessionID string, t session.Type, automationID string, scheduled *time.Time) ControlResult {
	if t == session.TypeSeed {
		c.log.Error("Seed session cannot take control", zap.String("session_id", sessionID))
		return ControlResult{Status: Rejected}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log.WithFields(zap.String("session_id", sessionID), zap.String("type", string(t)))

	if c.activeID == sessionID {
		return ControlResult{Status: AlreadyActive}
	}

	entry := session.QueuedSession{
		SessionID:              sessionID,
		Type:                   t,
		AutomationID:           automationID,
		ScheduledExecutionTime: scheduled,
		EnqueuedAt:             c.now(),
	}

	if c.activeID == "" {
		c.enqueueLocked(entry)
		c.processNextLocked()
		return c.resultForLocked(sessionID)
	}

	if t == session.TypeChat {
		c.removeQueuedLocked(func(q session.QueuedSession) bool { return q.Type == session.TypeChat })

		switch {
		case c.activeType == session.TypeChat:
			log.Info("Chat preempts active chat", zap.String("previous", c.activeID))
			c.enqueueLocked(entry)
			c.closeActiveLocked(nil)
			return c.resultForLocked(sessionID)

		case c.activeType == session.TypeAutomation && c.isInactiveForRealReasonLocked():
			evicted := session.QueuedSession{
				SessionID:              c.activeID,
				Type:                   session.TypeAutomation,
				AutomationID:           c.activeAutomationID,
				ScheduledExecutionTime: c.activeScheduled,
				EnqueuedAt:             c.now(),
			}
			log.Info("Chat evicts inactive automation", zap.String("evicted", evicted.SessionID))
			c.publish(bus.TopicSessionEvicted, evicted.SessionID, map[string]any{"by": sessionID})
			c.enqueueLocked(evicted)
			c.enqueueLocked(entry)
			c.closeActiveLocked(session.EndReasonPtr(session.EndReasonSuspended))
			return c.resultForLocked(sessionID)

		default:
			c.enqueueLocked(entry)
			c.publish(bus.TopicSessionQueued, sessionID, map[string]any{"position": 1})
			return ControlResult{Status: Queued, Position: 1}
		}
	}

	if t == session.TypeAutomation && c.activeType == session.TypeChat && c.isInactiveForRealReasonLocked() {
		log.Info("Automation evicts inactive chat", zap.String("evicted", c.activeID))
		c.publish(bus.TopicSessionEvicted, c.activeID, map[string]any{"by": sessionID})
		c.enqueueLocked(entry)
		c.closeActiveLocked(session.EndReasonPtr(session.EndReasonSuspended))
		return c.resultForLocked(sessionID)
	}

	pos := c.enqueueLocked(entry)
	c.publish(bus.TopicSessionQueued, sessionID, map[string]any{"position": pos})
	log.Debug("Session queued", zap.Int("position", pos))
	return ControlResult{Status: Queued, Position: pos}
}

// resultForLocked reports where sessionID ended up after queue processing.
func (c *Controller) resultForLocked(sessionID string) ControlResult {
	if c.activeID == sessionID {
		return ControlResult{Status: Activated}
	}
	for i, q := range c.queue {
		if q.SessionID == sessionID {
			return ControlResult{Status: Queued, Position: i + 1}
		}
	}
	// Dismissed while processing the queue.
	return ControlResult{Status: Queued}
}

// isInactiveForRealReasonLocked reports whether the active session has
// been idle beyond the eviction threshold. Waiting on the network, or a
// recent network error, does not count as inactivity.
func (c *Controller) isInactiveForRealReasonLocked() bool {
	now := c.now()
	threshold := c.threshold()
	if now.Sub(c.lastActivity) <= threshold {
		return false
	}

	ctx, cancel := context.WithTimeout(c.ctx, persistTimeout)
	defer cancel()
	sess, err := c.store.Get(ctx, c.activeID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			c.log.Warn("Failed to load active session for eviction check",
				zap.String("session_id", c.activeID), zap.Error(err))
		}
		return true
	}

	if sess.State == session.StateWaitingNetwork {
		return false
	}
	if sess.LastNetworkErrorTime != nil && now.Sub(*sess.LastNetworkErrorTime) < threshold {
		return false
	}
	return true
}

// CloseActiveSession closes the active session, if any, and activates the
// next queued one.
func (c *Controller) CloseActiveSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID == "" {
		return
	}
	c.closeActiveLocked(nil)
}

// CloseSessionIfActive closes sessionID only if it is still the active
// session, recording reason when set. It reports whether it closed it.
func (c *Controller) CloseSessionIfActive(sessionID string, reason *session.EndReason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID == "" || c.activeID != sessionID {
		return false
	}
	c.closeActiveLocked(reason)
	return true
}

func (c *Controller) closeActiveLocked(reason *session.EndReason) {
	id := c.activeID
	for _, fn := range c.onClosed {
		fn(id)
	}

	c.activeID = ""
	c.activeType = ""
	c.activeAutomationID = ""
	c.activeScheduled = nil
	c.lastActivity = time.Time{}
	c.notifyLocked()

	c.persist.submit("deactivate", func(ctx context.Context) error {
		if reason != nil {
			if err := c.store.SetEndReason(ctx, id, reason); err != nil && !errors.Is(err, session.ErrNotFound) {
				return err
			}
		}
		return c.store.DeactivateAll(ctx)
	})

	data := map[string]any{}
	if reason != nil {
		data["end_reason"] = string(*reason)
	}
	c.publish(bus.TopicSessionClosed, id, data)
	c.log.Info("Session closed", zap.String("session_id", id))

	c.processNextLocked()
}

// RestoreActiveSession rehydrates the in-memory state for a session that
// was active before a restart. It runs the activation callbacks only.
func (c *Controller) RestoreActiveSession(sessionID string, t session.Type) {
	ctx, cancel := context.WithTimeout(c.ctx, persistTimeout)
	defer cancel()

	var automationID string
	var scheduled *time.Time
	if sess, err := c.store.Get(ctx, sessionID); err == nil {
		automationID = sess.AutomationID
		scheduled = sess.ScheduledExecutionTime
	} else {
		c.log.Warn("Restoring session without its record", zap.String("session_id", sessionID), zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeID = sessionID
	c.activeType = t
	c.activeAutomationID = automationID
	c.activeScheduled = scheduled
	c.lastActivity = c.now()
	c.notifyLocked()

	for _, fn := range c.onActivated {
		fn(sessionID, t)
	}
	c.log.Info("Active session restored", zap.String("session_id", sessionID), zap.String("type", string(t)))
}

// Restore reads the persisted active session at startup. A CHAT is
// restored as active. An AUTOMATION was cut off by the restart, so it is
// restored and then closed as INTERRUPTED, which lets the queue move on.
func (c *Controller) Restore(ctx context.Context) error {
	sess, err := c.store.GetActive(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch sess.Type {
	case session.TypeChat:
		c.RestoreActiveSession(sess.ID, sess.Type)
	case session.TypeAutomation:
		c.RestoreActiveSession(sess.ID, sess.Type)
		c.CloseSessionIfActive(sess.ID, session.EndReasonPtr(session.EndReasonInterrupted))
	default:
		return c.store.DeactivateAll(ctx)
	}
	return nil
}
