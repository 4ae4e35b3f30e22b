package server

import (
	"context"
	"testing"

	"github.com/dotside-studios/amiibo-agent/protocol"
)

func noopHandler(ctx context.Context, rw Responder, req protocol.WebSocketRequest) error {
	return nil
}

func TestHandlerRegistryHandle(t *testing.T) {
	tests := []struct {
		name        string
		messageType string
		handler     HandlerFunc
		wantErr     bool
	}{
		{"valid registration", "getState", noopHandler, false},
		{"empty message type", "", noopHandler, true},
		{"nil handler", "getState", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHandlerRegistry()
			err := r.Handle(tt.messageType, tt.handler)
			if (err != nil) != tt.wantErr {
				t.Errorf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandlerRegistryDuplicate(t *testing.T) {
	r := NewHandlerRegistry()
	if err := r.Handle("mount", noopHandler); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := r.Handle("mount", noopHandler); err == nil {
		t.Error("Handle() accepted a duplicate registration")
	}
}

func TestHandlerRegistryLookup(t *testing.T) {
	r := NewHandlerRegistry()
	if err := r.Handle("flush", noopHandler); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if !r.Has("flush") {
		t.Error("Has(flush) = false, want true")
	}
	if r.Has("unmount") {
		t.Error("Has(unmount) = true, want false")
	}
	if _, ok := r.Get("flush"); !ok {
		t.Error("Get(flush) not found")
	}
	if _, ok := r.Get("unmount"); ok {
		t.Error("Get(unmount) found unexpectedly")
	}
	types := r.MessageTypes()
	if len(types) != 1 || types[0] != "flush" {
		t.Errorf("MessageTypes() = %v, want [flush]", types)
	}
}

func TestHandlerRegistryLifecycle(t *testing.T) {
	r := NewHandlerRegistry()
	calls := 0
	r.RegisterLifecycle(func(ctx context.Context) { calls++ })
	r.RegisterLifecycle(func(ctx context.Context) { calls++ })
	r.StartLifecycleHandlers(context.Background())
	if calls != 2 {
		t.Errorf("lifecycle starters ran %d times, want 2", calls)
	}
}
