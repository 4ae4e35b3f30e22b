// Package server provides the HTTP and WebSocket control surface for the
// emulated tag.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/amiibo-agent/amiibo"
	"github.com/dotside-studios/amiibo-agent/buildinfo"
	"github.com/dotside-studios/amiibo-agent/protocol"
)

// DefaultSessionTimeout bounds an idle control session.
const DefaultSessionTimeout = 30 * time.Minute

// Config holds the server configuration.
type Config struct {
	Device *amiibo.Device
	Port   int

	// APISecret is an optional pre-shared secret clients must present
	// when claiming the control session.
	APISecret string

	// SessionTimeout releases an idle control session. Zero means
	// DefaultSessionTimeout.
	SessionTimeout time.Duration

	// TLS configuration (optional)
	CertFile string
	KeyFile  string
}

// TLSEnabled returns true if TLS is configured.
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Server manages the HTTP and WebSocket server around one tag controller.
type Server struct {
	config     Config
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc

	clients    map[*websocket.Conn]bool
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader

	sessions *SessionManager

	handlerRegistry *HandlerRegistry

	mdnsServer *zeroconf.Server

	deviceHandler *DeviceHandler
}

// New creates a new server instance and registers the device handlers.
func New(config Config) *Server {
	timeout := config.SessionTimeout
	if timeout == 0 {
		timeout = DefaultSessionTimeout
	}
	s := &Server{
		config:  config,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions:        NewSessionManager(config.APISecret, timeout),
		handlerRegistry: NewHandlerRegistry(),
	}

	if config.Device != nil {
		s.deviceHandler = NewDeviceHandler(config.Device)
		s.deviceHandler.Register(s)
	}

	return s
}

// DeviceState reports the controller state for status displays.
func (s *Server) DeviceState() string {
	if s.deviceHandler == nil {
		return ""
	}
	return s.deviceHandler.Snapshot().State
}

// Handle implements HandlerServer.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// StartLifecycle implements HandlerServer.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.handlerRegistry.RegisterLifecycle(start)
}

// BroadcastState implements HandlerServer.
func (s *Server) BroadcastState(p protocol.StatePayload) {
	s.broadcast(&protocol.WebSocketMessage{
		ID:      protocol.NewMessageID(),
		Type:    protocol.WSTypeStateChanged,
		Payload: p,
	})
}

// BroadcastTagEvent implements HandlerServer.
func (s *Server) BroadcastTagEvent(messageType string, p protocol.TagEventPayload) {
	s.broadcast(&protocol.WebSocketMessage{
		ID:      protocol.NewMessageID(),
		Type:    messageType,
		Payload: p,
	})
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(message *protocol.WebSocketMessage) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			client.Close()
			delete(s.clients, client)
		}
	}
}

// enableCORS is a middleware that adds CORS headers to responses.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Start starts the HTTP server and blocks until Stop is called.
func (s *Server) Start() error {
	log.Printf("Starting %s...", buildinfo.DisplayName)

	mux := http.NewServeMux()
	apiV1 := "/api/v1"

	mux.HandleFunc(apiV1+"/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc("/ws", enableCORS(s.handleWebSocket))

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " Running"))
	}))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: mux,
	}

	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		var err error
		if s.config.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
			s.cancel()
		}
	}()

	if err := s.startMDNS(); err != nil {
		log.Printf("Warning: Failed to start mDNS service: %v", err)
		log.Printf("Auto-discovery will not be available, but server will continue normally")
	}

	s.handlerRegistry.StartLifecycleHandlers(s.ctx)

	<-s.ctx.Done()
	log.Println("Server context cancelled, initiating shutdown...")
	return nil
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop() {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		log.Printf("mDNS service stopped")
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		s.httpServer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// startMDNS registers the agent as an mDNS service for auto-discovery.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	log.Printf("mDNS service registered: %s on port %d", MDNSServiceName, s.config.Port)
	return nil
}

// handleWebSocket upgrades the connection and runs the message loop. The
// control session is exclusive; additional clients are rejected until it
// is released.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", r.Header.Get("Origin"))
	w.Header().Set("Access-Control-Allow-Credentials", "true")

	token := s.sessions.Acquire(r.URL.Query().Get("secret"), r.Header.Get("Origin"), r.RemoteAddr)
	if token == "" {
		log.Printf("WebSocket connection rejected from %s", r.RemoteAddr)
		http.Error(w, "Session already claimed or invalid secret", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sessions.Release()
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket connected from %s", r.RemoteAddr)

	defer func() {
		conn.Close()
		s.sessions.Release()
		log.Printf("WebSocket disconnected, session released")
	}()

	s.clientsMux.Lock()
	s.clients[conn] = true
	s.clientsMux.Unlock()
	defer func() {
		s.clientsMux.Lock()
		delete(s.clients, conn)
		s.clientsMux.Unlock()
	}()

	// Tell the new client where the controller stands.
	if s.deviceHandler != nil {
		conn.WriteJSON(&protocol.WebSocketMessage{
			ID:      protocol.NewMessageID(),
			Type:    protocol.WSTypeStateChanged,
			Payload: s.deviceHandler.Snapshot(),
		})
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.sessions.RefreshTimeout()

		var wsRequest protocol.WebSocketRequest
		if err := json.Unmarshal(message, &wsRequest); err != nil {
			log.Printf("Failed to parse WebSocket message: %v", err)
			s.sendErrorResponse(conn, "", "PARSE_ERROR", "Invalid message format")
			continue
		}

		handler, ok := s.handlerRegistry.Get(wsRequest.Type)
		if !ok {
			log.Printf("Unknown message type: %s", wsRequest.Type)
			s.sendErrorResponse(conn, wsRequest.ID, "UNKNOWN_TYPE", fmt.Sprintf("Unknown message type: %s", wsRequest.Type))
			continue
		}

		if err := handler(r.Context(), conn, wsRequest); err != nil {
			log.Printf("Handler error for message type '%s': %v", wsRequest.Type, err)
		}
	}
}

// sendErrorResponse sends a structured error response to a client.
func (s *Server) sendErrorResponse(conn *websocket.Conn, requestID string, errorCode string, message string) {
	response := protocol.WebSocketResponse{
		ID:      requestID,
		Type:    protocol.WSTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{
			"code": errorCode,
		},
	}

	if err := conn.WriteJSON(response); err != nil {
		log.Printf("Failed to send error response: %v", err)
	}
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health).
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	state := ""
	if s.deviceHandler != nil {
		state = s.deviceHandler.Snapshot().State
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"state":     state,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
