// ABOUTME: WebSocket client for the control surface
// ABOUTME: Correlates replies with requests and exposes pushed events
package control

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClosed = errors.New("control connection closed")
	// ErrRemote wraps failures reported by the server
	ErrRemote = errors.New("control request failed")
)

// Client is a connection to a control server
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Message
	err     error

	events chan Message
	done   chan struct{}
}

// Dial connects to the control server at addr (host:port)
func Dial(ctx context.Context, addr string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: Path}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan Message),
		events:  make(chan Message, 16),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		if msg.ID == "" {
			select {
			case c.events <- msg:
			default:
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// Events receives pushed messages such as devices/changed. It is closed
// when the connection ends.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Request sends a request and waits for its reply. An error reply is
// returned as ErrRemote.
func (c *Client) Request(ctx context.Context, typ string, payload interface{}) (Message, error) {
	msg, err := NewMessage(typ, uuid.New().String(), payload)
	if err != nil {
		return Message{}, err
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return Message{}, fmt.Errorf("failed to send %s: %w", typ, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		if reply.Type == TypeError {
			var p ErrorPayload
			_ = reply.Decode(&p)
			return reply, fmt.Errorf("%w: %s", ErrRemote, p.Message)
		}
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return Message{}, ctx.Err()
	}
}

func (c *Client) requestState(ctx context.Context, typ string, payload interface{}) (ServerState, error) {
	reply, err := c.Request(ctx, typ, payload)
	if err != nil {
		return ServerState{}, err
	}
	var st ServerState
	if err := reply.Decode(&st); err != nil {
		return ServerState{}, fmt.Errorf("failed to decode %s: %w", reply.Type, err)
	}
	return st, nil
}

// Status returns the server state
func (c *Client) Status(ctx context.Context) (ServerState, error) {
	return c.requestState(ctx, TypeServerStatus, nil)
}

// Devices lists every endpoint the server can see
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	reply, err := c.Request(ctx, TypeDevicesList, nil)
	if err != nil {
		return nil, err
	}
	var p DevicesPayload
	if err := reply.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}
	return p.Devices, nil
}

// Start starts a session on the named device
func (c *Client) Start(ctx context.Context, device string) (ServerState, error) {
	return c.requestState(ctx, TypeSessionStart, StartRequest{Device: device})
}

// Stop stops the running session
func (c *Client) Stop(ctx context.Context) (ServerState, error) {
	return c.requestState(ctx, TypeSessionStop, nil)
}

// SetVolume sets the output volume
func (c *Client) SetVolume(ctx context.Context, v float64) (ServerState, error) {
	return c.requestState(ctx, TypeOutputVolume, VolumeRequest{Volume: v})
}

// SetGains sets band gains and, when overall is non-nil, the overall gain
func (c *Client) SetGains(ctx context.Context, bands []float64, overall *float64) (ServerState, error) {
	return c.requestState(ctx, TypeEQGains, GainsRequest{Bands: bands, Overall: overall})
}

// ResetEQ flattens the equalizer
func (c *Client) ResetEQ(ctx context.Context) (ServerState, error) {
	return c.requestState(ctx, TypeEQReset, nil)
}

// Close closes the connection and waits for the reader
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
