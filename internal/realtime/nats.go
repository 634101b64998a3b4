package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSPublisher puts every event on the event bus for downstream consumers
// (archival, analytics). Subjects look like "<prefix>.item.42.bid.placed".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("bidhall-api"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if prefix == "" {
		prefix = "bidhall"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Publish implements services.Publisher
func (p *NATSPublisher) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(channel, event, payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(p.prefix, channel, event), data)
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Subject maps a channel and event to a NATS subject. Tokens are separated by
// dots, so dots and wildcards inside ids are replaced.
func Subject(prefix, channel, event string) string {
	clean := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	kind, id, _ := strings.Cut(channel, ":")
	return strings.Join([]string{prefix, clean.Replace(kind), clean.Replace(id), event}, ".")
}
