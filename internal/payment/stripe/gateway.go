package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// ErrProviderDown is returned when Stripe answers with a server error
var ErrProviderDown = errors.New("stripe is unavailable")

// Gateway re-queries Stripe for objects a webhook did not fully describe
type Gateway struct {
	client *client.API
}

// NewGateway creates a Gateway. backends may be nil to use the Stripe API.
func NewGateway(secretKey string, backends *stripe.Backends) *Gateway {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &Gateway{client: sc}
}

// LookupInvoiceRef reads the invoice reference from the PaymentIntent metadata.
// An unknown PaymentIntent yields an empty reference.
func (g *Gateway) LookupInvoiceRef(ctx context.Context, paymentIntentID string) (models.InvoiceRef, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			if stripeErr.HTTPStatusCode == http.StatusNotFound {
				return models.InvoiceRef{}, nil
			}
			if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
				return models.InvoiceRef{}, ErrProviderDown
			}
		}
		return models.InvoiceRef{}, fmt.Errorf("stripe lookup %s: %w", paymentIntentID, err)
	}

	return models.InvoiceRef{
		InvoiceID:     pi.Metadata[MetadataInvoiceID],
		InvoiceNumber: pi.Metadata[MetadataInvoiceNumber],
	}, nil
}
