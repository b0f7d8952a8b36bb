package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"assistant/pkg/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage is the JSON frame exchanged with websocket clients.
type WSMessage struct {
	Type      string     `json:"type"`                 // "event", "ping", "pong", "system", "error"
	Content   string     `json:"content,omitempty"`    // Text content
	SessionID string     `json:"session_id,omitempty"` // Only deliver events of this session
	Event     *bus.Event `json:"event,omitempty"`
	Timestamp int64      `json:"timestamp,omitempty"`
}

// client is one connected websocket stream.
type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	subject string
	// sessionID filters events; empty receives everything.
	sessionID string
}

func (s *Server) handleWS(c *echo.Context) error {
	subject := "anonymous"
	if s.secret() != "" {
		sub, err := ParseToken(s.secret(), tokenFromRequest(c.Request()))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		subject = sub
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return nil
	}

	cl := &client{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, 256),
		subject:   subject,
		sessionID: c.QueryParam("session_id"),
	}

	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()

	s.logger.Info("WebSocket client connected",
		zap.String("client_id", cl.id),
		zap.String("subject", subject))

	s.sendTo(cl, WSMessage{
		Type:      "system",
		Content:   "connected",
		SessionID: cl.sessionID,
		Timestamp: time.Now().Unix(),
	})

	go s.writePump(cl)
	s.readPump(cl)
	return nil
}

func (s *Server) readPump(cl *client) {
	defer func() {
		s.removeClient(cl)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(65536)
	cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error",
					zap.String("client_id", cl.id),
					zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendTo(cl, WSMessage{Type: "error", Content: "invalid message format", Timestamp: time.Now().Unix()})
			continue
		}
		if msg.Type == "ping" {
			s.sendTo(cl, WSMessage{Type: "pong", Timestamp: time.Now().Unix()})
		}
	}
}

func (s *Server) writePump(cl *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast forwards a bus event to every matching client. Slow clients
// drop frames instead of blocking the bus.
func (s *Server) broadcast(evt *bus.Event) {
	data, err := json.Marshal(WSMessage{
		Type:      "event",
		SessionID: evt.SessionID,
		Event:     evt,
		Timestamp: evt.Timestamp.Unix(),
	})
	if err != nil {
		s.logger.Warn("Failed to encode event", zap.String("topic", string(evt.Topic)), zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cl := range s.clients {
		if cl.sessionID != "" && cl.sessionID != evt.SessionID {
			continue
		}
		select {
		case cl.send <- data:
		default:
			s.logger.Debug("Dropping event for slow client", zap.String("client_id", cl.id))
		}
	}
}

func (s *Server) sendTo(cl *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.clients[cl.id]; !ok {
		return
	}
	select {
	case cl.send <- data:
	default:
	}
}

func (s *Server) removeClient(cl *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[cl.id]; ok {
		close(cl.send)
		delete(s.clients, cl.id)
		s.logger.Info("WebSocket client disconnected", zap.String("client_id", cl.id))
	}
}
