package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/dotside-studios/amiibo-agent/protocol"
)

// Responder receives JSON replies for one client connection. A
// *websocket.Conn satisfies it; tests substitute an in-memory recorder.
type Responder interface {
	WriteJSON(v any) error
}

// HandlerFunc processes one websocket request and writes its reply to the
// responder. Returning an error only logs it; the handler is responsible
// for answering the client either way.
type HandlerFunc func(ctx context.Context, rw Responder, req protocol.WebSocketRequest) error

// HandlerServer is what handlers see of the server: route registration,
// lifecycle hooks and broadcasting.
type HandlerServer interface {
	// Handle registers a handler function for a specific message type.
	Handle(messageType string, handler HandlerFunc) error

	// StartLifecycle registers a function called once the server starts.
	StartLifecycle(start func(ctx context.Context))

	// BroadcastState pushes a stateChanged message to every client.
	BroadcastState(p protocol.StatePayload)

	// BroadcastTagEvent pushes a tagArrived or tagDeparted message.
	BroadcastTagEvent(messageType string, p protocol.TagEventPayload)
}

// ServerHandler is implemented by handler groups; Register sets up their
// routes and lifecycle in one place.
type ServerHandler interface {
	Register(server HandlerServer)
}

// HandlerRegistry routes websocket messages to handler functions by
// message type. Registration and lookup are thread safe.
type HandlerRegistry struct {
	handlers          map[string]HandlerFunc
	lifecycleStarters []func(ctx context.Context)
	mu                sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler function for a specific message type.
// Returns an error if a handler for the same type is already registered.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}

	r.handlers[messageType] = handler
	return nil
}

// RegisterLifecycle registers a lifecycle function called when the server
// starts.
func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycleStarters = append(r.lifecycleStarters, start)
}

// Get retrieves a handler function by message type.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Has checks if a handler exists for the given message type.
func (r *HandlerRegistry) Has(messageType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[messageType]
	return ok
}

// MessageTypes returns all registered message types.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// StartLifecycleHandlers starts all registered lifecycle functions.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, starter := range r.lifecycleStarters {
		starter(ctx)
	}
}
