package realtime

import (
	"context"

	"github.com/bidhall/bidhall-api/internal/services"
	"golang.org/x/sync/errgroup"
)

// Multi publishes each event to every publisher in parallel. All publishers
// are attempted; the first error is returned.
type Multi []services.Publisher

// Publish implements services.Publisher
func (m Multi) Publish(ctx context.Context, channel, event string, payload interface{}) error {
	var g errgroup.Group
	for _, p := range m {
		g.Go(func() error {
			return p.Publish(ctx, channel, event, payload)
		})
	}
	return g.Wait()
}
