package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nostr-lanes/internal/nostr"
	"nostr-lanes/internal/types"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 90 * time.Second
	pingPeriod   = 30 * time.Second
)

// errSubscriptionClosed is returned by readLoop when the relay closes the
// persistent subscription.
var errSubscriptionClosed = errors.New("relay: subscription closed by relay")

// Conn is a single websocket connection to a relay.
type Conn struct {
	conn     *websocket.Conn
	relayURL string
	writeMu  sync.Mutex

	mu      sync.Mutex
	timers  map[string]*time.Timer // feedback subscription id -> auto close
	closed  bool
	logger  *slog.Logger
	publish func(Notification)
}

func dial(ctx context.Context, dialer *websocket.Dialer, relayURL string, publish func(Notification), logger *slog.Logger) (*Conn, error) {
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", relayURL, err)
	}
	return &Conn{
		conn:     conn,
		relayURL: relayURL,
		timers:   make(map[string]*time.Timer),
		logger:   logger,
		publish:  publish,
	}, nil
}

// writeJSON sends a message on the connection with a timeout
func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteJSON(v)
}

// req opens subscription subID with the given filters.
func (c *Conn) req(subID string, filters []types.Filter) error {
	msg := types.NostrMessage{"REQ", subID}
	for _, f := range filters {
		msg = append(msg, f.ToMap())
	}
	return c.writeJSON(msg)
}

// closeSub sends CLOSE for subID (best effort, connection may be closed)
func (c *Conn) closeSub(subID string) {
	c.mu.Lock()
	if t, ok := c.timers[subID]; ok {
		t.Stop()
		delete(c.timers, subID)
	}
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		if err := c.writeJSON(types.NostrMessage{"CLOSE", subID}); err != nil {
			c.logger.Debug("relay: close subscription failed", "relay", c.relayURL, "sub_id", subID, "error", err)
		}
	}
}

// requestFor opens a subscription that closes itself after validity.
func (c *Conn) requestFor(filters []types.Filter, validity time.Duration) (string, error) {
	subID := newSubID("fb")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	c.timers[subID] = time.AfterFunc(validity, func() { c.closeSub(subID) })
	c.mu.Unlock()

	if err := c.req(subID, filters); err != nil {
		c.mu.Lock()
		if t, ok := c.timers[subID]; ok {
			t.Stop()
			delete(c.timers, subID)
		}
		c.mu.Unlock()
		return "", fmt.Errorf("relay: send REQ to %s: %w", c.relayURL, err)
	}
	return subID, nil
}

// readLoop reads until the connection fails or ctx is done. Notifications
// are handed to publish; persistentID is the subscription whose CLOSED ends
// the loop.
func (c *Conn) readLoop(ctx context.Context, persistentID string) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(ctx, stop)

	for {
		var msg types.NostrMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay: read from %s: %w", c.relayURL, err)
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, _ := msg[1].(string)
			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}
			c.publish(Notification{Type: MessageEvent, Relay: c.relayURL, SubID: subID, Event: &evt})

		case "EOSE":
			subID, _ := msg[1].(string)
			c.publish(Notification{Type: MessageEOSE, Relay: c.relayURL, SubID: subID})

		case "CLOSED":
			subID, _ := msg[1].(string)
			reason := ""
			if len(msg) >= 3 {
				reason, _ = msg[2].(string)
			}
			c.mu.Lock()
			if t, ok := c.timers[subID]; ok {
				t.Stop()
				delete(c.timers, subID)
			}
			c.mu.Unlock()
			c.publish(Notification{Type: MessageClosed, Relay: c.relayURL, SubID: subID, Message: reason})
			if subID == persistentID {
				return errSubscriptionClosed
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			c.logger.Info("relay: NOTICE", "relay", c.relayURL, "notice", notice)
			c.publish(Notification{Type: MessageNotice, Relay: c.relayURL, Message: notice})
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// unblock ReadJSON
			c.close()
			return
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("relay: ping failed", "relay", c.relayURL, "error", err)
			}
		}
	}
}

// close marks the connection as closed and cleans up
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.conn.Close()
}

func newSubID(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + hex.EncodeToString(b)
}
