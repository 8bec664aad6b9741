package main

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/model"
)

// remoteError is an error event received from the relay.
type remoteError struct{ errs.Payload }

func (e *remoteError) Error() string { return e.Code + ": " + e.Message }

type client struct {
	ws     *websocket.Conn
	frames chan convert.Frame
	err    error // set before frames is closed
	// SocketID assigned by the relay
	SocketID string
}

// dial opens the socket and waits for the connected acknowledgement.
func dial(ctx context.Context, addr, token string) (*client, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, h)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &client{ws: ws, frames: make(chan convert.Frame, 64)}
	go c.readLoop()
	f, err := c.await(model.EventConnected)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	ack, err := convert.DecodeData[convert.Connected](f)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	c.SocketID = ack.SocketID
	return c, nil
}

func (c *client) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

func (c *client) send(event string, payload any) error {
	b, err := convert.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *client) readLoop() {
	defer close(c.frames)
	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		f, err := convert.DecodeFrame(b)
		if err != nil {
			continue
		}
		c.frames <- f
	}
}

func (c *client) next() (convert.Frame, error) {
	f, ok := <-c.frames
	if !ok {
		return convert.Frame{}, c.err
	}
	return f, nil
}

// await skips frames until one of events arrives. An error event ends the wait.
func (c *client) await(events ...string) (convert.Frame, error) {
	for {
		f, err := c.next()
		if err != nil {
			return convert.Frame{}, err
		}
		if f.Event == model.EventError {
			return f, frameError(f)
		}
		if slices.Contains(events, f.Event) {
			return f, nil
		}
	}
}

func frameError(f convert.Frame) error {
	p, err := convert.DecodeData[errs.Payload](f)
	if err != nil {
		return err
	}
	return &remoteError{p}
}
