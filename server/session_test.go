package server

import (
	"testing"
	"time"
)

func TestSessionAcquireRelease(t *testing.T) {
	m := NewSessionManager("", time.Minute)

	token := m.Acquire("", "http://localhost", "127.0.0.1:1234")
	if token == "" {
		t.Fatal("Acquire() returned empty token on free session")
	}
	if second := m.Acquire("", "http://localhost", "127.0.0.1:5678"); second != "" {
		t.Error("Acquire() granted a second concurrent session")
	}

	m.Release()
	if token := m.Acquire("", "http://localhost", "127.0.0.1:5678"); token == "" {
		t.Error("Acquire() failed after release")
	}
}

func TestSessionValidate(t *testing.T) {
	m := NewSessionManager("", time.Minute)
	token := m.Acquire("", "http://localhost", "127.0.0.1:1234")

	tests := []struct {
		name   string
		token  string
		origin string
		addr   string
		want   bool
	}{
		{"matching binding", token, "http://localhost", "127.0.0.1:1234", true},
		{"wrong token", "bogus", "http://localhost", "127.0.0.1:1234", false},
		{"wrong origin", token, "http://evil.example", "127.0.0.1:1234", false},
		{"wrong address", token, "http://localhost", "10.0.0.1:9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Validate(tt.token, tt.origin, tt.addr); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionSecret(t *testing.T) {
	m := NewSessionManager("hunter2", time.Minute)
	if token := m.Acquire("wrong", "http://localhost", "127.0.0.1:1"); token != "" {
		t.Error("Acquire() granted session with wrong secret")
	}
	if token := m.Acquire("hunter2", "http://localhost", "127.0.0.1:1"); token == "" {
		t.Error("Acquire() rejected correct secret")
	}
}

func TestSessionReleaseIdempotent(t *testing.T) {
	m := NewSessionManager("", time.Minute)
	m.Release()
	m.Acquire("", "", "")
	m.Release()
	m.Release()
	if token := m.Acquire("", "", ""); token == "" {
		t.Error("Acquire() failed after double release")
	}
}
