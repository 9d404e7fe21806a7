// Package bus publishes conversation events to a websocket hub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxtalk/internal/conversation"
)

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type Config struct {
	URL string `yaml:"url"`
	// Name is sent as From.
	Name      string        `yaml:"name"`
	Reconnect time.Duration `yaml:"reconnect"`
	Queue     int           `yaml:"queue"`
}

// Publisher is a conversation.Observer that forwards events to the hub. Events
// are queued and dropped when the queue is full, so a slow hub never stalls
// the loop.
type Publisher struct {
	cfg   Config
	queue chan Message

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ conversation.Observer = (*Publisher)(nil)

// Dial connects once so a wrong URL fails at startup.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	cfg.URL = u.String()
	if cfg.Name == "" {
		cfg.Name = "voxtalk"
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 2 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 64
	}

	p := &Publisher{cfg: cfg, queue: make(chan Message, cfg.Queue)}
	if err := p.dial(ctx); err != nil {
		return nil, err
	}
	slog.Info("Connected to bus", "url", cfg.URL)
	return p, nil
}

func (p *Publisher) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", p.cfg.URL, err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// Run writes queued messages until ctx is done, reconnecting on failure.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-p.queue:
			for {
				err := p.write(m)
				if err == nil {
					break
				}
				slog.Warn("Bus write failed, reconnecting", "err", err)
				p.close()
				if !p.redial(ctx) {
					return ctx.Err()
				}
			}
		}
	}
}

func (p *Publisher) redial(ctx context.Context) bool {
	t := time.NewTicker(p.cfg.Reconnect)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		if err := p.dial(ctx); err == nil {
			slog.Info("Reconnected to bus", "url", p.cfg.URL)
			return true
		}
	}
}

func (p *Publisher) write(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return websocket.ErrCloseSent
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.conn.Close()
		p.conn = nil
	}
}

// Publish queues one event and reports whether it was accepted.
func (p *Publisher) Publish(kind, content string) bool {
	select {
	case p.queue <- Message{From: p.cfg.Name, To: "ALL", Kind: kind, Content: content}:
		return true
	default:
		slog.Debug("Bus queue full, event dropped", "kind", kind)
		return false
	}
}

type turnEvent struct {
	User        string `json:"user"`
	Assistant   string `json:"assistant"`
	Interrupted bool   `json:"interrupted"`
	Fallback    bool   `json:"fallback"`
}

func (p *Publisher) OnTurn(t conversation.Turn) {
	data, _ := json.Marshal(turnEvent{
		User:        t.User,
		Assistant:   t.Assistant,
		Interrupted: t.Interrupted,
		Fallback:    t.Fallback,
	})
	p.Publish("turn", string(data))
}

func (p *Publisher) OnError(kind conversation.Kind, err error) {
	p.Publish("error", kind.String()+": "+err.Error())
}

func (p *Publisher) OnBargeIn() { p.Publish("barge_in", "") }
