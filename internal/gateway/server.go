// Package gateway provides the websocket transport in front of the broker:
// connection upgrade, envelope decoding, and non-blocking outbound delivery.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broker"
	"github.com/cory-johannsen/skirmish/internal/config"
	"github.com/cory-johannsen/skirmish/internal/protocol"
)

// Server accepts websocket connections and bridges them to the broker. It
// implements broker.Sender: delivery is fire-and-forget, and a gone or
// backlogged connection is a logged drop.
type Server struct {
	serverCfg  config.ServerConfig
	gatewayCfg config.GatewayConfig
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	broker  *broker.Broker

	httpSrv *http.Server
}

// NewServer creates a gateway Server. Attach must be called with the broker
// before Start.
//
// Precondition: logger must be non-nil.
func NewServer(serverCfg config.ServerConfig, gatewayCfg config.GatewayConfig, logger *zap.Logger) *Server {
	return &Server{
		serverCfg:  serverCfg,
		gatewayCfg: gatewayCfg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// All cross-origin access is permitted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// Attach wires the broker that receives inbound events.
//
// Precondition: must be called exactly once, before Start.
func (s *Server) Attach(b *broker.Broker) {
	s.broker = b
}

// Send delivers one event to one connection. Implements broker.Sender.
//
// Postcondition: The event is buffered for delivery, or dropped with a log
// line when the connection is gone or backlogged. Never blocks.
func (s *Server) Send(connID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshalling payload",
			zap.String("event", event),
			zap.String("conn", connID),
			zap.Error(err),
		)
		return
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		s.logger.Error("marshalling envelope",
			zap.String("event", event),
			zap.String("conn", connID),
			zap.Error(err),
		)
		return
	}

	s.mu.RLock()
	client, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debug("dropping event for unknown connection",
			zap.String("event", event),
			zap.String("conn", connID),
		)
		return
	}
	if err := client.Push(frame); err != nil {
		s.logger.Debug("dropping event",
			zap.String("event", event),
			zap.String("conn", connID),
			zap.Error(err),
		)
	}
}

// Start begins serving websocket upgrades on /ws. Blocks until Stop.
//
// Precondition: Attach must have been called.
// Postcondition: Returns nil after a graceful Stop, or the listen error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{
		Addr:    s.serverCfg.Addr(),
		Handler: mux,
	}
	s.logger.Info("websocket gateway listening", zap.String("addr", s.serverCfg.Addr()))

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the listener and closes all clients.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.serverCfg.ShutdownTimeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// ClientCount returns the number of live websocket connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	id := uuid.NewString()
	client := NewClient(id, conn, s.gatewayCfg.SendBuffer)

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()

	s.broker.Connect(id)
	s.logger.Info("client connected",
		zap.String("conn", id),
		zap.String("remote", r.RemoteAddr),
	)

	go client.writePump(s.gatewayCfg, s.logger)
	s.readPump(client, conn)

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	client.Close()
	s.broker.Disconnect(id)
	s.logger.Info("client disconnected", zap.String("conn", id))
}

// readPump decodes inbound envelopes and hands them to the broker. It returns
// when the connection closes or a read fails.
func (s *Server) readPump(client *Client, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(s.gatewayCfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.gatewayCfg.PongTimeout))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("read failed",
					zap.String("conn", client.ID()),
					zap.Error(err),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			s.logger.Warn("dropping malformed envelope",
				zap.String("conn", client.ID()),
				zap.Error(err),
			)
			continue
		}

		s.dispatch(client.ID(), env)
	}
}

// dispatch routes one decoded envelope into the broker. A malformed payload
// is a logged drop, never a disconnect.
func (s *Server) dispatch(connID string, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinQueue:
		var req protocol.JoinQueueRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.logger.Warn("dropping malformed joinQueue payload",
				zap.String("conn", connID),
				zap.Error(err),
			)
			return
		}
		s.broker.JoinQueue(connID, req)

	default:
		data := make(map[string]any)
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &data); err != nil {
				s.logger.Warn("dropping malformed payload",
					zap.String("conn", connID),
					zap.String("event", env.Event),
					zap.Error(err),
				)
				return
			}
		}
		s.broker.HandleEvent(connID, env.Event, data)
	}
}
