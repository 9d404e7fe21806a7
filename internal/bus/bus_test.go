package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxtalk/internal/conversation"
)

func hub(t *testing.T) (*httptest.Server, <-chan Message) {
	t.Helper()
	got := make(chan Message, 16)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				t.Errorf("unmarshal: %v", err)
				return
			}
			got <- m
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestPublisher_ForwardsEvents(t *testing.T) {
	srv, got := hub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := Dial(ctx, Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	go p.Run(ctx)

	p.OnTurn(conversation.Turn{User: "hi", Assistant: "hello", Interrupted: true})
	p.OnBargeIn()
	p.OnError(conversation.KindPlayback, errors.New("no sink"))

	m := next(t, got)
	if m.From != "voxtalk" || m.To != "ALL" || m.Kind != "turn" {
		t.Fatalf("turn message = %+v", m)
	}
	var ev turnEvent
	if err := json.Unmarshal([]byte(m.Content), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.User != "hi" || ev.Assistant != "hello" || !ev.Interrupted {
		t.Fatalf("turn event = %+v", ev)
	}

	if m := next(t, got); m.Kind != "barge_in" {
		t.Fatalf("second message kind = %q, want barge_in", m.Kind)
	}
	if m := next(t, got); m.Kind != "error" || m.Content != "playback: no sink" {
		t.Fatalf("third message = %+v", m)
	}
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	srv, _ := hub(t)
	p, err := Dial(context.Background(), Config{URL: wsURL(srv), Queue: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer p.close()

	// Run is not started, so nothing drains the queue.
	if !p.Publish("a", "") || !p.Publish("b", "") {
		t.Fatal("Publish rejected below capacity")
	}
	if p.Publish("c", "") {
		t.Fatal("Publish accepted beyond capacity")
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, Config{URL: "ws://127.0.0.1:1/ws"}); err == nil {
		t.Fatal("expected dial error")
	}
}
