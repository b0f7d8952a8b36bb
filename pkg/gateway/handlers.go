package gateway

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"assistant/pkg/automation"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/session"
	"assistant/pkg/version"
)

// --- Status ---

func (s *Server) handleStatus(c *echo.Context) error {
	status := map[string]interface{}{
		"version":        version.GetVersion(),
		"go_version":     runtime.Version(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"queue":          []session.QueuedSession{},
	}

	if ctrl := s.deps.Controller; ctrl != nil {
		if active, ok := ctrl.ActiveSession(); ok {
			status["active_session"] = active
		}
		if queue := ctrl.Queue(); len(queue) > 0 {
			status["queue"] = queue
		}
	}
	if r := s.deps.Rounds; r != nil {
		status["round_in_progress"] = r.InProgress()
		if last, ok := r.LastResult(); ok {
			status["last_round"] = last
		}
	}
	if s.deps.Interactions != nil {
		status["pending_interactions"] = len(s.deps.Interactions.Pending())
	}
	if s.deps.Bus != nil {
		status["bus_metrics"] = s.deps.Bus.GetMetrics()
	}

	s.mu.RLock()
	status["connections"] = len(s.clients)
	s.mu.RUnlock()

	return c.JSON(http.StatusOK, status)
}

// --- Sessions ---

type createSessionRequest struct {
	Name              string `json:"name"`
	ProviderID        string `json:"provider_id"`
	RequireValidation bool   `json:"require_validation"`
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	var body createSessionRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = "Chat " + time.Now().Format("2006-01-02 15:04")
	}
	sess := &session.Session{
		ID:                uuid.NewString(),
		Name:              name,
		Type:              session.TypeChat,
		State:             session.StateIdle,
		ProviderID:        strings.TrimSpace(body.ProviderID),
		RequireValidation: body.RequireValidation,
	}
	if err := s.deps.Store.Create(c.Request().Context(), sess); err != nil {
		s.logger.Error("Failed to create session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c *echo.Context) error {
	var filter session.ListFilter
	if raw := c.QueryParam("type"); raw != "" {
		t, err := session.ParseType(strings.ToUpper(raw))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		filter.Type = t
	}
	filter.AutomationID = c.QueryParam("automation_id")
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		filter.Limit = limit
	}

	sessions, err := s.deps.Store.List(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleGetSession(c *echo.Context) error {
	sess, err := s.loadSession(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	sess, err := s.loadSession(c)
	if err != nil {
		return err
	}

	if ctrl := s.deps.Controller; ctrl != nil {
		ctrl.RemoveFromQueue(sess.ID)
		if ctrl.CloseSessionIfActive(sess.ID, nil) {
			// Let the close persist before the rows disappear.
			ctrl.Flush()
		}
	}
	if err := s.deps.Store.Delete(c.Request().Context(), sess.ID); err != nil {
		s.logger.Error("Failed to delete session", zap.String("session_id", sess.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete session"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListMessages(c *echo.Context) error {
	sess, err := s.loadSession(c)
	if err != nil {
		return err
	}
	msgs, err := s.deps.Store.ListMessages(c.Request().Context(), sess.ID)
	if err != nil {
		s.logger.Error("Failed to list messages", zap.String("session_id", sess.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list messages"})
	}
	if msgs == nil {
		msgs = []*session.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

type postMessageRequest struct {
	Text string `json:"text"`
}

type postMessageResponse struct {
	Message *session.Message         `json:"message"`
	Control controller.ControlResult `json:"control"`
}

// handlePostMessage stores a user message, asks for control of the session
// and starts a round once the session holds the slot.
func (s *Server) handlePostMessage(c *echo.Context) error {
	sess, err := s.loadSession(c)
	if err != nil {
		return err
	}
	if sess.Type != session.TypeChat {
		return c.JSON(http.StatusConflict, map[string]string{"error": "only chat sessions accept user messages"})
	}

	var body postMessageRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	text := strings.TrimSpace(body.Text)
	if text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text required"})
	}

	msg, err := s.deps.Messages.StoreUserText(c.Request().Context(), sess.ID, text)
	if err != nil {
		s.logger.Error("Failed to store user message", zap.String("session_id", sess.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store message"})
	}

	// Activation starts the round through the controller callback. A
	// queued session gets its round when the queue reaches it.
	result := s.deps.Controller.RequestSessionControl(sess.ID, session.TypeChat, "", nil)
	if result.Status == controller.AlreadyActive {
		s.startRound(sess.ID)
	}

	return c.JSON(http.StatusAccepted, postMessageResponse{Message: msg, Control: result})
}

func (s *Server) loadSession(c *echo.Context) (*session.Session, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "session id required"})
	}
	sess, err := s.deps.Store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		s.logger.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
	}
	return sess, nil
}

// --- Active session ---

// handleStopActive interrupts the running round and releases the slot. An
// automation stopped this way ends INTERRUPTED.
func (s *Server) handleStopActive(c *echo.Context) error {
	active, ok := s.deps.Controller.ActiveSession()
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{"stopped": false})
	}

	if s.deps.Interactions != nil {
		s.deps.Interactions.RequestInterruption()
	}
	if active.Type == session.TypeAutomation {
		s.deps.Controller.CloseSessionIfActive(active.ID, session.EndReasonPtr(session.EndReasonInterrupted))
	} else {
		s.deps.Controller.CloseActiveSession()
	}

	s.logger.Info("Active session stopped",
		zap.String("session_id", active.ID),
		zap.String("type", string(active.Type)))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"stopped":    true,
		"session_id": active.ID,
	})
}

// handleInterrupt only raises the interruption flag; the round records the
// interruption and the session keeps the slot.
func (s *Server) handleInterrupt(c *echo.Context) error {
	if s.deps.Interactions == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "interactions unavailable"})
	}
	s.deps.Interactions.RequestInterruption()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"interrupted": true,
		"session_id":  s.deps.Controller.ActiveSessionID(),
	})
}

// --- Interactions ---

func (s *Server) handleListInteractions(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Interactions.Pending())
}

func (s *Server) handleRespond(c *echo.Context) error {
	var body interaction.Response
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	id := strings.TrimSpace(c.Param("id"))
	return s.interactionResult(c, id, s.deps.Interactions.Respond(id, body))
}

func (s *Server) handleValidate(c *echo.Context) error {
	var body struct {
		Approved bool `json:"approved"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	id := strings.TrimSpace(c.Param("id"))
	return s.interactionResult(c, id, s.deps.Interactions.Validate(id, body.Approved))
}

func (s *Server) handleCancelInteraction(c *echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	return s.interactionResult(c, id, s.deps.Interactions.Cancel(id))
}

func (s *Server) interactionResult(c *echo.Context, id string, err error) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "id": id})
	case errors.Is(err, interaction.ErrRequestNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "interaction not found"})
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}

// --- Automations ---

func (s *Server) scheduler(c *echo.Context) (*automation.Scheduler, error) {
	if s.deps.Scheduler == nil {
		return nil, c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "automations unavailable"})
	}
	return s.deps.Scheduler, nil
}

func (s *Server) handleListAutomations(c *echo.Context) error {
	sched, err := s.scheduler(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sched.List())
}

func (s *Server) handleCreateAutomation(c *echo.Context) error {
	sched, err := s.scheduler(c)
	if err != nil {
		return err
	}
	var body automation.Definition
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	def, err := sched.Add(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, def)
}

func (s *Server) handleDeleteAutomation(c *echo.Context) error {
	sched, err := s.scheduler(c)
	if err != nil {
		return err
	}
	if err := sched.Remove(c.Param("id")); err != nil {
		return automationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEnableAutomation(c *echo.Context) error {
	return s.setAutomationEnabled(c, true)
}

func (s *Server) handleDisableAutomation(c *echo.Context) error {
	return s.setAutomationEnabled(c, false)
}

func (s *Server) setAutomationEnabled(c *echo.Context, enabled bool) error {
	sched, err := s.scheduler(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := sched.SetEnabled(id, enabled); err != nil {
		return automationError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "enabled": enabled})
}

func (s *Server) handleTriggerAutomation(c *echo.Context) error {
	sched, err := s.scheduler(c)
	if err != nil {
		return err
	}
	fired, err := sched.Trigger(c.Request().Context(), c.Param("id"))
	if err != nil {
		return automationError(c, err)
	}
	return c.JSON(http.StatusOK, fired)
}

func (s *Server) handleAutomationStats(c *echo.Context) error {
	sched, err := s.scheduler(c)
	if err != nil {
		return err
	}
	stats, err := sched.Stats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return automationError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func automationError(c *echo.Context, err error) error {
	if errors.Is(err, automation.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "automation not found"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
