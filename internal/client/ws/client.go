// Package ws provides a WebSocket relay client.
package ws

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gobwas/ws"

	"github.com/omochice/typing-indicator/internal/client"
	wstransport "github.com/omochice/typing-indicator/internal/transport/ws"
)

// Client represents a WebSocket relay client.
type Client struct {
	*client.Stream
	address string
	token   string
}

var _ client.Client = (*Client)(nil)

// New creates a new WebSocket Client instance. address is the relay's
// WebSocket URL, e.g. ws://localhost:8080/websocket.
func New(address, token string, opts ...client.Option) *Client {
	c := &Client{address: address, token: token}
	c.Stream = client.NewStream(c.dial, opts...)
	return c
}

func (c *Client) dial(ctx context.Context) (client.Connection, error) {
	u, err := url.Parse(c.address)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	q.Set(wstransport.TokenParam, c.token)
	u.RawQuery = q.Encode()

	dialer := ws.Dialer{Protocols: []string{wstransport.Subprotocol}}
	conn, br, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return client.NewWebSocketConnection(conn, br), nil
}
