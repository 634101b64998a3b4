// Package realtime pushes bid, close and payment events to connected clients
// and to other api nodes.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var (
	// ErrBacklogFull is returned by Publish when the hub cannot keep up
	ErrBacklogFull = errors.New("realtime hub backlog is full")

	// ErrHubStopped is returned once Run has returned
	ErrHubStopped = errors.New("realtime hub stopped")
)

// Message is the envelope exchanged with websocket clients and relayed
// between nodes
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BidPlacer admits bids submitted over a websocket
type BidPlacer interface {
	PlaceBid(ctx context.Context, itemID, bidderID string, amount decimal.Decimal) (*models.Bid, error)
}

type subscription struct {
	client    *Client
	channel   string
	subscribe bool
}

type outbound struct {
	channel string
	data    []byte
}

type reply struct {
	client *Client
	data   []byte
}

// Hub maintains the set of active clients and the channels they watch
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients by channel ("item:<id>", "auction:<id>", "user:<id>")
	channels map[string]map[*Client]bool

	broadcast   chan outbound
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	replies     chan reply
	done        chan struct{}
	bids        BidPlacer
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	welcomeText string
}

// NewHub creates a new hub. bids may be nil, in which case bids over the
// socket are refused.
func NewHub(bids BidPlacer, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		replies:    make(chan reply),
		done:       make(chan struct{}),
		bids:       bids,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		welcomeText: "connected to bidhall",
	}
}

// Run serves hub requests until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			if sub.subscribe {
				h.join(sub.client, sub.channel)
				h.deliver(sub.client, mustEncode(Message{Type: "subscribed", Channel: sub.channel}))
			} else {
				h.leave(sub.client, sub.channel)
				h.deliver(sub.client, mustEncode(Message{Type: "unsubscribed", Channel: sub.channel}))
			}
		case r := <-h.replies:
			if _, ok := h.clients[r.client]; ok {
				h.deliver(r.client, r.data)
			}
		case msg := <-h.broadcast:
			for client := range h.channels[msg.channel] {
				h.deliver(client, msg.data)
			}
		}
	}
}

// Publish implements services.Publisher by fanning the event out to the local
// subscribers of channel
func (h *Hub) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	data, err := Encode(channel, event, payload)
	if err != nil {
		return err
	}
	return h.Deliver(ctx, channel, data)
}

// Deliver forwards an already encoded message to the subscribers of channel.
// It never blocks on a slow hub.
func (h *Hub) Deliver(ctx context.Context, channel string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- outbound{channel: channel, data: data}:
		return nil
	default:
		return ErrBacklogFull
	}
}

func (h *Hub) join(client *Client, channel string) {
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.channels[channel] = true
}

func (h *Hub) leave(client *Client, channel string) {
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(client.channels, channel)
}

// deliver queues data for a client, dropping clients that fall behind
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn("dropping slow websocket client", "user_id", client.userID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	for channel := range client.channels {
		h.leave(client, channel)
	}
	delete(h.clients, client)
	close(client.send)
}

// Encode builds the wire form of an event
func Encode(channel, event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: event, Channel: channel, Payload: raw})
}

func mustEncode(msg Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}
