package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
)

// TCP is a buffered TCP connection, e.g. to a telnet-style console server.
type TCP struct {
	conn net.Conn
	w    *bufio.Writer
}

// DialTCP connects to addr ("host:port").
func DialTCP(ctx context.Context, addr string) (*TCP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCP(conn), nil
}

// NewTCP wraps an established connection.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{conn: conn, w: bufio.NewWriter(conn)}
}

// Name returns "tcp".
func (t *TCP) Name() string {
	return "tcp"
}

// RemoteAddr returns the peer address.
func (t *TCP) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *TCP) Read(b []byte) (int, error) {
	return t.conn.Read(b)
}

// Write buffers b until Flush.
func (t *TCP) Write(b []byte) (int, error) {
	return t.w.Write(b)
}

func (t *TCP) Flush() error {
	return t.w.Flush()
}

func (t *TCP) Close() error {
	_ = t.w.Flush()
	return t.conn.Close()
}
