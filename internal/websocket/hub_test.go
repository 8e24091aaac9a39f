package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "u1")
	c2 := mockClient(hub, "u2")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	// Should not panic
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestNotifyScopesToUsers(t *testing.T) {
	hub := NewHub(slog.Default())

	owner := mockClient(hub, "owner")
	guardian := mockClient(hub, "guardian")
	stranger := mockClient(hub, "stranger")
	for _, c := range []*Client{owner, guardian, stranger} {
		hub.Register(c)
	}

	hub.Notify(NewMessage(EntityMedication, "toggled", "m1"), "owner", "guardian")

	for _, c := range []*Client{owner, guardian} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "medication_toggled" || got.ID != "m1" {
				t.Errorf("%s got %+v", c.userID, got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s: timeout waiting for message", c.userID)
		}
	}

	select {
	case data := <-stranger.send:
		t.Errorf("stranger received %s", data)
	default:
	}
}

func TestNotifyFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "u1")
	hub.Register(c)

	for i := 0; i < sendBufferSize+1; i++ {
		hub.Notify(NewMessage("test", "fill", ""), "u1")
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("expected %d buffered messages, got %d", sendBufferSize, got)
	}
	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "u1")
			hub.Register(c)
			hub.Notify(NewMessage("test", "concurrent", ""), "u1")
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	hub := NewHub(slog.Default())
	userID := func(r *http.Request) string {
		if r.Header.Get("Authorization") == "Bearer tok" {
			return "u1"
		}
		return ""
	}
	server := httptest.NewServer(HandleWebSocket(hub, userID, slog.Default()))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- Subscribe(ctx, url, "tok", func(m Message) {
			got <- m
			cancel()
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Notify(NewMessage(EntityInvitation, "accepted", "i1"), "u1")

	select {
	case m := <-got:
		if m.Entity != EntityInvitation || m.Action != "accepted" {
			t.Errorf("got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	if err := <-done; err != nil {
		t.Errorf("subscribe: %v", err)
	}
}

func TestSubscribeRejectsAnonymous(t *testing.T) {
	hub := NewHub(slog.Default())
	server := httptest.NewServer(HandleWebSocket(hub, func(*http.Request) string { return "" }, slog.Default()))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	err := Subscribe(context.Background(), url, "bad", func(Message) {})
	if err == nil {
		t.Error("expected dial error")
	}
}
