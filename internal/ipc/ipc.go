// Package ipc is the local control channel between voxtalk and voxtalk-ctl:
// one JSON request and one JSON reply per unix socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/voxtalk.sock"

// Commands understood by the daemon.
const (
	CmdStop   = "stop"
	CmdQuit   = "quit"
	CmdStatus = "status"
)

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler answers one command.
type Handler func(ControlMessage) Reply

type Server struct {
	path    string
	handler Handler
	ln      net.Listener
	wg      sync.WaitGroup
}

// Listen replaces any stale socket at path.
func Listen(path string, h Handler) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	if h == nil {
		return nil, errors.New("ipc: nil handler")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen: %w", err)
	}
	return &Server{path: path, handler: h, ln: ln}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is done, then removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer os.Remove(s.path)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			slog.Warn("IPC accept failed", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		slog.Debug("IPC bad request", "err", err)
		return
	}
	slog.Debug("IPC command", "cmd", msg.Cmd)
	_ = json.NewEncoder(conn).Encode(s.handler(msg))
}

// SendCommand sends cmd to the daemon listening on path and returns its reply.
func SendCommand(ctx context.Context, path, cmd string) (Reply, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, err
	}
	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("ipc: read reply: %w", err)
	}
	if !r.OK {
		return r, fmt.Errorf("ipc: %s", r.Error)
	}
	return r, nil
}
