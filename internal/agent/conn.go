// Package agent implements the transfer agent daemon: it registers with
// the master over WebSocket, runs a chunk receiver on its data port, and
// executes the assignment batches the master pushes to it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/treemover/treemover/pkg/protocol"
)

// Conn is a WebSocket connection to the master.
type Conn struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	sendChan chan protocol.Envelope
	done     chan struct{}
	writeMu  sync.Mutex
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Dial establishes a WebSocket connection to the master. wsURL should be
// the full WebSocket URL including the /ws path.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &Conn{
		conn:     conn,
		logger:   logger,
		sendChan: make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

// ReadLoop reads messages from the connection and calls onEnv for each
// envelope. Returns when the connection is closed or the context is
// cancelled.
func (c *Conn) ReadLoop(ctx context.Context, onEnv func(env protocol.Envelope)) error {
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
		c.writeMu.Unlock()
		return err
	})

	// Pinger keeps the connection alive through idle stretches.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		// Closing the connection forces ReadMessage() to unblock instantly.
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "err", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid JSON envelope", "err", err)
			continue
		}
		onEnv(env)
	}
}

// Send queues an envelope for delivery. Writes are serialized through a
// single writer goroutine.
func (c *Conn) Send(env protocol.Envelope) error {
	select {
	case c.sendChan <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	for env := range c.sendChan {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteJSON(env)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Error("websocket write error", "err", err)
			return
		}
	}
}

// Close closes the WebSocket connection.
func (c *Conn) Close() error {
	close(c.sendChan)
	<-c.done
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Close()
}
