// Package gateway exposes the orchestration core to external clients: a
// REST API for sessions, interactions and automations, plus a websocket
// stream of bus events. The /api group is JWT-protected when a secret is
// configured.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v5"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"

	"assistant/pkg/automation"
	"assistant/pkg/bus"
	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/round"
	"assistant/pkg/session"
)

// Rounds runs and reports AI rounds for the active session.
type Rounds interface {
	ExecuteAIRound(ctx context.Context, reason session.RoundReason) error
	InProgress() bool
	LastResult() (round.Result, bool)
}

// Deps are the components the gateway serves.
type Deps struct {
	Store        session.Store
	Messages     *messages.Storage
	Controller   *controller.Controller
	Rounds       Rounds
	Interactions *interaction.Manager
	Scheduler    *automation.Scheduler
	Bus          bus.Bus
}

// Server is the REST/WebSocket gateway server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	config     *config.Config
	logger     *logger.Logger
	deps       Deps
	startedAt  time.Time

	clients map[string]*client
	mu      sync.RWMutex
	subID   string

	// rounds started from user messages run under ctx until Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// rounds tracks sessions with a round driver running. A true value
	// asks the driver for one more pass after the current one.
	roundMu         sync.Mutex
	rounds          map[string]bool
	roundRetryDelay time.Duration
}

// NewServer creates a new gateway server.
func NewServer(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    cfg,
		logger:    log,
		deps:      deps,
		startedAt: time.Now(),
		clients:   make(map[string]*client),
		ctx:       ctx,
		cancel:    cancel,

		rounds:          make(map[string]bool),
		roundRetryDelay: 200 * time.Millisecond,
	}
	s.setup()

	// A CHAT that reaches the slot, directly or from the queue, has a user
	// message waiting for an answer.
	if deps.Controller != nil {
		deps.Controller.OnSessionActivated(func(sessionID string, t session.Type) {
			if t == session.TypeChat {
				s.startRound(sessionID)
			}
		})
	}
	return s
}

func (s *Server) setup() {
	e := echo.New()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))

	e.GET("/health", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// WebSocket clients pass the token as a query parameter.
	e.GET("/api/ws", s.handleWS)

	api := e.Group("/api")
	if s.secret() != "" {
		api.Use(echojwt.WithConfig(echojwt.Config{
			KeyFunc: func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(s.secret()), nil
			},
		}))
	}

	api.GET("/status", s.handleStatus)

	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/messages", s.handleListMessages)
	api.POST("/sessions/:id/messages", s.handlePostMessage)

	api.POST("/active/stop", s.handleStopActive)
	api.POST("/active/interrupt", s.handleInterrupt)

	api.GET("/interactions", s.handleListInteractions)
	api.POST("/interactions/:id/respond", s.handleRespond)
	api.POST("/interactions/:id/validate", s.handleValidate)
	api.POST("/interactions/:id/cancel", s.handleCancelInteraction)

	api.GET("/automations", s.handleListAutomations)
	api.POST("/automations", s.handleCreateAutomation)
	api.DELETE("/automations/:id", s.handleDeleteAutomation)
	api.POST("/automations/:id/enable", s.handleEnableAutomation)
	api.POST("/automations/:id/disable", s.handleDisableAutomation)
	api.POST("/automations/:id/trigger", s.handleTriggerAutomation)
	api.GET("/automations/:id/stats", s.handleAutomationStats)

	s.echo = e
}

func (s *Server) secret() string {
	return s.config.Gateway.JWTSecret
}

// Start subscribes to the bus and starts listening.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	s.logger.Info("Gateway server starting", zap.String("addr", addr))

	if s.deps.Bus != nil {
		s.subID = s.deps.Bus.Subscribe(bus.TopicAll, func(_ context.Context, evt *bus.Event) error {
			s.broadcast(evt)
			return nil
		})
	}

	// Use http.Server directly so shutdown is driven by the fx lifecycle.
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Gateway server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes websocket clients, aborts rounds started by the gateway and
// shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Gateway server stopping")

	if s.deps.Bus != nil && s.subID != "" {
		s.deps.Bus.Unsubscribe(s.subID)
	}

	s.mu.Lock()
	for id, cl := range s.clients {
		close(cl.send)
		cl.conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Gateway rounds still running at shutdown")
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ServeHTTP lets the server be mounted or exercised without listening.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// startRound drives MANUAL_START rounds for a CHAT session in the
// background. A request for a session whose driver is already running is
// folded into one more pass of that driver.
func (s *Server) startRound(sessionID string) {
	if s.deps.Rounds == nil || s.deps.Controller == nil {
		return
	}

	s.roundMu.Lock()
	defer s.roundMu.Unlock()
	if _, running := s.rounds[sessionID]; running {
		s.rounds[sessionID] = true
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	s.rounds[sessionID] = false

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.driveRound(sessionID)

			s.roundMu.Lock()
			again := s.rounds[sessionID] && s.ctx.Err() == nil
			if !again {
				delete(s.rounds, sessionID)
				s.roundMu.Unlock()
				return
			}
			s.rounds[sessionID] = false
			s.roundMu.Unlock()
		}
	}()
}

// driveRound runs one round for the session once the previous round has
// unwound. It gives up when the session loses the slot or its last
// message is no longer an unanswered user turn.
func (s *Server) driveRound(sessionID string) {
	for s.ctx.Err() == nil &&
		s.deps.Controller.ActiveSessionID() == sessionID &&
		s.awaitingReply(sessionID) {

		err := s.deps.Rounds.ExecuteAIRound(s.ctx, session.RoundReasonManualStart)
		switch {
		case err == nil:
			return
		case errors.Is(err, session.ErrRoundInProgress):
			s.logger.Debug("Previous round still running, retrying",
				zap.String("session_id", sessionID))
		default:
			s.logger.Warn("Round failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.roundRetryDelay):
		}
	}
}

func (s *Server) awaitingReply(sessionID string) bool {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	msgs, err := s.deps.Store.ListMessages(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to read session messages", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return len(msgs) > 0 && msgs[len(msgs)-1].Sender == session.SenderUser
}
