package api

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestConnRegistry_Register(t *testing.T) {
	m := NewConnRegistry()
	conn := &websocket.Conn{}

	m.Register("user123", "c1", conn)

	if active := m.Get("user123", "c1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
	if n := m.Count("user123"); n != 1 {
		t.Errorf("Expected 1 connection, got %d", n)
	}
}

func TestConnRegistry_UnregisterStale(t *testing.T) {
	m := NewConnRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	m.Register("user123", "c1", conn1)
	m.Register("user123", "c2", conn2)

	// A stale pointer must not remove the current registration.
	m.Unregister("user123", "c2", conn1)
	m.Unregister("user123", "c1", conn1)

	if m.Get("user123", "c1") != nil {
		t.Error("Expected c1 to be removed")
	}
	if active := m.Get("user123", "c2"); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestConnRegistry_CloseUserWithoutConns(t *testing.T) {
	m := NewConnRegistry()
	if n := m.CloseUser("nobody"); n != 0 {
		t.Errorf("Expected 0 closed, got %d", n)
	}
}

func TestConnRegistry_ConcurrentAccess(t *testing.T) {
	m := NewConnRegistry()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Register("concurrentUser", "c-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Get("concurrentUser", "c-"+strconv.Itoa(i))
		}
	}()

	wg.Wait()
	if n := m.Count("concurrentUser"); n != 1000 {
		t.Errorf("Expected 1000 connections, got %d", n)
	}
}
