package ibkr

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// mockConn is a scriptable net.Conn for driving the client without TWS.
// Reads behave like an idle socket (every poll hits the read deadline);
// writes are captured for inspection.
type mockConn struct {
	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
	closed   bool
}

func newMockConn() *mockConn {
	return &mockConn{}
}

func (m *mockConn) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	return 0, errReadIdle
}

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.written.Write(b)
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetWritten returns everything the client has sent so far.
func (m *mockConn) GetWritten() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Bytes()
}

// SetWriteError makes subsequent writes fail with err.
func (m *mockConn) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *mockConn) LocalAddr() net.Addr                { return mockAddr("127.0.0.1:12345") }
func (m *mockConn) RemoteAddr() net.Addr               { return mockAddr("127.0.0.1:7497") }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

type mockAddr string

func (a mockAddr) Network() string { return "tcp" }
func (a mockAddr) String() string  { return string(a) }

// errReadIdle satisfies net.Error so the read loop treats it as a normal
// deadline expiry rather than a connection failure.
var errReadIdle net.Error = idleTimeout{}

type idleTimeout struct{}

func (idleTimeout) Error() string   { return "read timeout" }
func (idleTimeout) Timeout() bool   { return true }
func (idleTimeout) Temporary() bool { return true }
