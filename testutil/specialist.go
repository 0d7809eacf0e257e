// Package testutil provides in-process specialist fixtures for tests: real TCP
// listeners speaking the NDJSON protocol, with configurable reply shape, delay,
// and failure behavior.
package testutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// ReplyFunc builds the reply object for one decoded request. Returning nil
// makes the server swallow the request without answering.
type ReplyFunc func(req map[string]any) any

// SpecialistServer is a fake specialist listening on a real socket.
type SpecialistServer struct {
	ID string

	listener net.Listener
	reply    ReplyFunc
	delay    time.Duration

	mu       sync.Mutex
	conns    []net.Conn
	requests []map[string]any
	closed   bool
	wg       sync.WaitGroup
}

// ServerOption configures a SpecialistServer.
type ServerOption func(*SpecialistServer)

// WithReply sets the reply builder.
func WithReply(fn ReplyFunc) ServerOption {
	return func(s *SpecialistServer) { s.reply = fn }
}

// WithDelay makes the server wait before answering each request.
func WithDelay(d time.Duration) ServerOption {
	return func(s *SpecialistServer) { s.delay = d }
}

// WithSilence makes the server accept requests but never answer, for timeout
// tests.
func WithSilence() ServerOption {
	return func(s *SpecialistServer) { s.reply = func(map[string]any) any { return nil } }
}

// StartSpecialist starts a fake specialist on an ephemeral localhost port. The
// default reply is the typed response shape echoing the request content.
func StartSpecialist(id string, opts ...ServerOption) (*SpecialistServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &SpecialistServer{
		ID:       id,
		listener: ln,
		reply:    defaultReply(id),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func defaultReply(id string) ReplyFunc {
	return func(req map[string]any) any {
		content, _ := req["content"].(string)
		return map[string]any{
			"type":    "response",
			"content": "echo: " + content,
			"ai_id":   id,
			"model":   "test-model",
		}
	}
}

// Port returns the listening port.
func (s *SpecialistServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the listening address.
func (s *SpecialistServer) Addr() string {
	return s.listener.Addr().String()
}

// Requests returns a copy of every decoded request seen so far.
func (s *SpecialistServer) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.requests))
	copy(out, s.requests)
	return out
}

// Close stops the listener and every open connection.
func (s *SpecialistServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	_ = s.listener.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
}

func (s *SpecialistServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *SpecialistServer) serve(conn net.Conn) {
	defer s.wg.Done()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		reply := s.reply(req)
		if reply == nil {
			continue
		}
		data, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
			return
		}
	}
}
