// Package tcp provides a raw TCP relay client.
package tcp

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/omochice/typing-indicator/internal/client"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

// Client represents a TCP relay client. Signals are exchanged with the
// caller as JSON envelopes and carried as binary frames on the wire.
type Client struct {
	*client.Stream
	address string
	token   string
}

var _ client.Client = (*Client)(nil)

// New creates a new Client instance
func New(address, token string, opts ...client.Option) *Client {
	c := &Client{address: address, token: token}
	c.Stream = client.NewStream(c.dial, opts...)
	return c
}

func (c *Client) dial(ctx context.Context) (client.Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	reader := bufio.NewReader(conn)
	if err := protocol.WriteHandshake(conn, c.token); err != nil {
		conn.Close()
		return nil, err
	}
	if err := protocol.ReadHandshakeReply(reader); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	return client.NewTCPConnection(conn, reader), nil
}
