package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Time allowed for a bid submitted over the socket
	bidTimeout = 10 * time.Second
)

// Client represents a websocket connection. channels is only touched by the
// hub's Run goroutine.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	channels map[string]bool
	userID   string
}

// errorPayload is sent back when a client request fails
type errorPayload struct {
	Message    string               `json:"message"`
	Reason     string               `json:"reason,omitempty"`
	MinimumBid *decimal.NullDecimal `json:"minimum_bid,omitempty"`
}

// Serve upgrades the request and attaches the connection to the hub. userID is
// empty for anonymous watchers, who may subscribe but not bid.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]bool),
		userID:   userID,
	}
	client.send <- encodeReply("welcome", map[string]string{"message": h.welcomeText})

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines
	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket closed unexpectedly", "user_id", c.userID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply("error", errorPayload{Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case "subscribe", "unsubscribe":
			var channel string
			if err := json.Unmarshal(msg.Payload, &channel); err != nil || channel == "" {
				c.reply("error", errorPayload{Message: "payload must be a channel name"})
				continue
			}
			if !c.mayWatch(channel) {
				c.reply("error", errorPayload{Message: "channel not allowed"})
				continue
			}
			select {
			case c.hub.subscribe <- subscription{client: c, channel: channel, subscribe: msg.Type == "subscribe"}:
			case <-c.hub.done:
				return
			}
		case "bid":
			c.placeBid(msg.Payload)
		default:
			c.reply("error", errorPayload{Message: "unknown message type"})
		}
	}
}

// mayWatch keeps user channels private to their owner
func (c *Client) mayWatch(channel string) bool {
	if owner, ok := strings.CutPrefix(channel, "user:"); ok {
		return c.userID != "" && owner == c.userID
	}
	return true
}

func (c *Client) placeBid(payload json.RawMessage) {
	if c.userID == "" {
		c.reply("error", errorPayload{Message: "not authenticated"})
		return
	}
	if c.hub.bids == nil {
		c.reply("error", errorPayload{Message: "bidding is not available"})
		return
	}

	var req models.PlaceBidRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ItemID == "" {
		c.reply("error", errorPayload{Message: "payload must carry item_id and amount"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
	defer cancel()
	bid, err := c.hub.bids.PlaceBid(ctx, req.ItemID, c.userID, req.Amount)
	if err != nil {
		out := errorPayload{Message: err.Error()}
		var rejection *services.BidRejection
		if errors.As(err, &rejection) {
			out.Reason = string(rejection.Reason)
			if rejection.MinimumBid.Valid {
				out.MinimumBid = &rejection.MinimumBid
			}
		} else {
			c.hub.logger.Error("websocket bid failed", "user_id", c.userID, "item_id", req.ItemID, "error", err)
			out.Message = "bid could not be placed"
		}
		c.reply("bid_rejected", out)
		return
	}
	c.reply("bid_placed", bid)
}

// reply sends a message to this client only, through the hub
func (c *Client) reply(event string, payload interface{}) {
	select {
	case c.hub.replies <- reply{client: c, data: encodeReply(event, payload)}:
	case <-c.hub.done:
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeReply(event string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return mustEncode(Message{Type: event, Payload: raw})
}
