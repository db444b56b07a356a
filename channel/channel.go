// Package channel wraps one unreliable UDP endpoint behind the small
// surface the meter and the reflector need: bind or connect once, send
// best-effort datagrams, and receive with an explicit timeout. Each
// Channel owns exactly one socket, released by Close on every exit path.
package channel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// MaxDatagramSize is the largest datagram a Channel will receive. It is
// the maximum UDP payload over IPv4; probes are far smaller, but the
// reflector must echo whatever arrives.
const MaxDatagramSize = 65507

// ErrTimeout is returned by Receive when no datagram arrives within the
// timeout. This is an expected outcome, not a failure.
var ErrTimeout = errors.New("receive timed out")

// Channel is one bidirectional datagram endpoint. A Channel created with
// Listen is unconnected and echoes with SendTo; a Channel created with
// Dial has a fixed peer and sends with Send.
type Channel struct {
	conn *net.UDPConn
}

// Listen binds a Channel to the given local UDP port. Port 0 asks the
// kernel for an ephemeral port, which tests rely on.
func Listen(port int) (*Channel, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("cannot bind UDP port %d: %w", port, err)
	}
	return &Channel{conn: conn}, nil
}

// Dial resolves the remote host once and fixes it as the peer for the
// lifetime of the Channel.
func Dial(host string, port int) (*Channel, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s port %d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", addr, err)
	}
	return &Channel{conn: conn}, nil
}

// Send transmits one datagram to the connected peer. Network loss is
// invisible here; an error means an unrecoverable local condition.
func (c *Channel) Send(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// SendTo transmits one datagram to an explicit address. Only valid on an
// unconnected (Listen) Channel; the reflector uses it to echo each
// datagram back to its sender.
func (c *Channel) SendTo(b []byte, addr net.Addr) error {
	_, err := c.conn.WriteTo(b, addr)
	return err
}

// Receive blocks up to |timeout| for one datagram and returns its payload
// and the sender address. When nothing arrives in time it returns
// ErrTimeout.
func (c *Channel) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, MaxDatagramSize)
	n, addr, err := c.conn.ReadFrom(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// LocalAddr returns the bound local address. Tests use it to learn the
// ephemeral port of a reflector listening on port 0.
func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close releases the underlying socket. After Close, all pending and
// future operations fail.
func (c *Channel) Close() error {
	return c.conn.Close()
}
