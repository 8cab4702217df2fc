package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/ziutek/telnet"
)

// Telnet is a TCP connection that speaks the telnet protocol: option
// negotiation is stripped from reads, IAC bytes are escaped on writes and
// "\n" is sent as "\r\n".
type Telnet struct {
	conn *telnet.Conn
	w    *bufio.Writer
}

// DialTelnet connects to addr ("host:port").
func DialTelnet(ctx context.Context, addr string) (*Telnet, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn, err := telnet.NewConn(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("telnet %s: %w", addr, err)
	}
	conn.SetUnixWriteMode(true)
	return &Telnet{conn: conn, w: bufio.NewWriter(conn)}, nil
}

// Name returns "telnet".
func (t *Telnet) Name() string {
	return "telnet"
}

func (t *Telnet) Read(b []byte) (int, error) {
	return t.conn.Read(b)
}

// Write buffers b until Flush.
func (t *Telnet) Write(b []byte) (int, error) {
	return t.w.Write(b)
}

func (t *Telnet) Flush() error {
	return t.w.Flush()
}

func (t *Telnet) Close() error {
	_ = t.w.Flush()
	return t.conn.Close()
}
