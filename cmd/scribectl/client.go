package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// event is the union of fields the daemon sends to panels.
type event struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Status    string          `json:"status,omitempty"`
	TabID     string          `json:"tabId,omitempty"`
	TabTitle  string          `json:"tabTitle,omitempty"`
	TabUUID   string          `json:"tabUUID,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Base64    string          `json:"base64,omitempty"`
	MimeType  string          `json:"mimeType,omitempty"`
	Path      string          `json:"path,omitempty"`
	Entries   json.RawMessage `json:"entries,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// panelClient speaks the panel websocket protocol.
type panelClient struct {
	conn net.Conn
	r    io.Reader
}

func dialPanel(ctx context.Context, addr string) (*panelClient, error) {
	conn, br, _, err := ws.Dial(ctx, "ws://"+addr+"/ws/ui")
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	c := &panelClient{conn: conn, r: conn}
	if br != nil {
		c.r = io.MultiReader(br, conn)
	}
	return c, nil
}

func (c *panelClient) Close() error {
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	return c.conn.Close()
}

func (c *panelClient) send(msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return wsutil.WriteClientText(c.conn, data)
}

type readWriter struct {
	io.Reader
	io.Writer
}

// next blocks for the next text event or until ctx ends.
func (c *panelClient) next(ctx context.Context) (event, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(dl)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		data, op, err := wsutil.ReadServerData(readWriter{c.r, c.conn})
		if err != nil {
			if ctx.Err() != nil {
				return event{}, ctx.Err()
			}
			return event{}, err
		}
		if op != ws.OpText {
			continue
		}
		var evt event
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		evt.Raw = data
		return evt, nil
	}
}

// waitFor reads events until match reports done.
func (c *panelClient) waitFor(ctx context.Context, match func(event) (bool, error)) error {
	for {
		evt, err := c.next(ctx)
		if err != nil {
			return err
		}
		done, err := match(evt)
		if done || err != nil {
			return err
		}
	}
}
