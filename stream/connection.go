package stream

import (
	"fmt"
	"net/http"
	"sync"
)

// ErrConnectionClosed is returned when writing to a connection that was closed
var ErrConnectionClosed = fmt.Errorf("connection closed")

// ErrRegistryClosed the registry no longer accepts subscriptions
var ErrRegistryClosed = fmt.Errorf("registry closed")

// Connection is one live push connection.
//
// Writes to a connection are serialized, so frames reach the client in write call order.
type Connection interface {
	// WriteFrame write and flush one complete frame
	WriteFrame(frame []byte) error
	// Close mark the connection closed. Safe to call multiple times.
	Close()
	// Done is closed once the connection is closed
	Done() <-chan struct{}
}

// httpConnection implements Connection over a streaming HTTP response
type httpConnection struct {
	lock      sync.Mutex
	writer    http.ResponseWriter
	flusher   http.Flusher
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPConnection wrap a streaming HTTP response as a Connection
//
// The response writer must support http.Flusher. The connection must be closed before
// the HTTP handler returns.
func NewHTTPConnection(w http.ResponseWriter) (Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}
	return &httpConnection{
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, nil
}

// WriteFrame write and flush one complete frame
func (c *httpConnection) WriteFrame(frame []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if _, err := c.writer.Write(frame); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close mark the connection closed
func (c *httpConnection) Close() {
	c.closeOnce.Do(func() {
		c.lock.Lock()
		c.closed = true
		c.lock.Unlock()
		close(c.done)
	})
}

// Done is closed once the connection is closed
func (c *httpConnection) Done() <-chan struct{} {
	return c.done
}
