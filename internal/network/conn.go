// internal/network/conn.go
package network

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Conn is an opaque handle to one client's bidirectional message stream.
// Implementations must be safe for one concurrent reader plus any number of
// concurrent writers.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// tcpConn frames messages as newline-delimited JSON over a TCP stream, the
// way the emulated game client speaks to the lobby port. Fixed read/write
// deadlines bound stalled peers.
type tcpConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewTCPConn wraps a net.Conn with newline framing and deadlines.
func NewTCPConn(c net.Conn, readTimeout, writeTimeout time.Duration) Conn {
	return &tcpConn{
		conn:         c,
		reader:       bufio.NewReader(c),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(line), nil
}

func (c *tcpConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte{'\n'})
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wsConn adapts a websocket into the same Conn shape so browser-side tools
// share the registry with raw TCP game clients.
type wsConn struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	remote string

	writeTimeout time.Duration
}

// NewWSConn wraps an accepted websocket connection.
func NewWSConn(ctx context.Context, c *websocket.Conn, remoteAddr string, writeTimeout time.Duration) Conn {
	wctx, cancel := context.WithCancel(ctx)
	return &wsConn{
		conn:         c,
		ctx:          wctx,
		cancel:       cancel,
		remote:       remoteAddr,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	ctx := c.ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.ctx, c.writeTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}
