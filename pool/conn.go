package pool

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the lifecycle state of one pooled specialist connection.
type ConnState int32

// Possible connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the string representation of ConnState.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection is one persistent NDJSON socket to a specialist. The per-connection
// mutex serializes request/response exchanges: the protocol has no multiplexing,
// so exactly one request may be in flight per socket.
type Connection struct {
	specialistID string
	addr         string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	state        atomic.Int32
	requestCount atomic.Int64
	lastUsed     atomic.Int64 // unix nanos
}

// SpecialistID returns the owning specialist's ID.
func (c *Connection) SpecialistID() string {
	return c.specialistID
}

// Addr returns the remote address this connection dials.
func (c *Connection) Addr() string {
	return c.addr
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connection) setState(s ConnState) {
	c.state.Store(int32(s))
}

// RequestCount returns how many requests this connection has carried.
func (c *Connection) RequestCount() int64 {
	return c.requestCount.Load()
}

// LastUsed returns when the connection last carried a request.
func (c *Connection) LastUsed() time.Time {
	n := c.lastUsed.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Connection) touch() {
	c.requestCount.Add(1)
	c.lastUsed.Store(time.Now().UnixNano())
}

// close tears down the socket. Callers must hold c.mu.
func (c *Connection) close(state ConnState) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.setState(state)
}

// Close shuts the connection down.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close(StateDisconnected)
}
