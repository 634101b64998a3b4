package store

import (
	"context"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/lib/pq"
)

const invoiceColumns = `id, invoice_number, user_id, auction_id, item_id, currency, subtotal,
	premium_total, tax_total, total_amount, status, payment_session_id, payment_intent_id,
	external_invoice_id, payment_link_url, created_at, paid_at, updated_at`

const lineItemColumns = `id, invoice_id, item_id, hammer, premium, tax, line_total`

// NextInvoiceSequence reserves the next invoice number
func (t *pgTx) NextInvoiceSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.GetContext(ctx, &seq, `SELECT nextval('invoice_number_seq')`)
	return seq, translate(err)
}

// CreateInvoice inserts an invoice and its line items
func (t *pgTx) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `)
			  VALUES (:id, :invoice_number, :user_id, :auction_id, :item_id, :currency, :subtotal,
			  :premium_total, :tax_total, :total_amount, :status, :payment_session_id, :payment_intent_id,
			  :external_invoice_id, :payment_link_url, :created_at, :paid_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, invoice); err != nil {
		return translate(err)
	}

	query = `INSERT INTO invoice_line_items (id, invoice_id, item_id, position, hammer, premium, tax, line_total)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, line := range invoice.LineItems {
		_, err := t.tx.ExecContext(ctx, query,
			line.ID, invoice.ID, line.ItemID, i, line.Hammer, line.Premium, line.Tax, line.LineTotal)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *pgTx) getInvoice(ctx context.Context, where string, arg interface{}) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE ` + where
	if err := t.tx.GetContext(ctx, invoice, query, arg); err != nil {
		return nil, translate(err)
	}
	if err := t.loadLineItems(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (t *pgTx) loadLineItems(ctx context.Context, invoice *models.Invoice) error {
	lines := []models.LineItem{}
	query := `SELECT ` + lineItemColumns + ` FROM invoice_line_items WHERE invoice_id = $1 ORDER BY position`
	if err := t.tx.SelectContext(ctx, &lines, query, invoice.ID); err != nil {
		return translate(err)
	}
	if len(lines) > 0 {
		invoice.LineItems = lines
	}
	return nil
}

// GetInvoice retrieves an invoice by ID
func (t *pgTx) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return t.getInvoice(ctx, `id = $1`, id)
}

// GetInvoiceForUpdate retrieves an invoice and locks its row
func (t *pgTx) GetInvoiceForUpdate(ctx context.Context, id string) (*models.Invoice, error) {
	return t.getInvoice(ctx, `id = $1 FOR UPDATE`, id)
}

// GetInvoiceByNumber retrieves an invoice by its human readable number
func (t *pgTx) GetInvoiceByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	return t.getInvoice(ctx, `invoice_number = $1`, number)
}

// GetInvoiceByExternalRef retrieves an invoice by any stored gateway identifier
func (t *pgTx) GetInvoiceByExternalRef(ctx context.Context, ref string) (*models.Invoice, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	return t.getInvoice(ctx,
		`payment_session_id = $1 OR payment_intent_id = $1 OR external_invoice_id = $1
		 ORDER BY created_at LIMIT 1`, ref)
}

// ListInvoicesByAuction retrieves the invoices of an auction ordered by number
func (t *pgTx) ListInvoicesByAuction(ctx context.Context, auctionID string) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE auction_id = $1 ORDER BY invoice_number`
	if err := t.tx.SelectContext(ctx, &invoices, query, auctionID); err != nil {
		return nil, translate(err)
	}
	if len(invoices) == 0 {
		return invoices, nil
	}

	ids := make(pq.StringArray, len(invoices))
	index := make(map[string]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
		index[inv.ID] = i
	}

	lines := []models.LineItem{}
	query = `SELECT ` + lineItemColumns + ` FROM invoice_line_items
			 WHERE invoice_id = ANY($1) ORDER BY invoice_id, position`
	if err := t.tx.SelectContext(ctx, &lines, query, ids); err != nil {
		return nil, translate(err)
	}
	for _, line := range lines {
		i := index[line.InvoiceID]
		invoices[i].LineItems = append(invoices[i].LineItems, line)
	}
	return invoices, nil
}

// FindActiveInvoiceForItem retrieves the non-cancelled invoice that bills an item
func (t *pgTx) FindActiveInvoiceForItem(ctx context.Context, itemID string) (*models.Invoice, error) {
	return t.getInvoice(ctx,
		`status <> 'cancelled'
		 AND (item_id = $1 OR id IN (SELECT invoice_id FROM invoice_line_items WHERE item_id = $1))
		 ORDER BY created_at LIMIT 1`, itemID)
}

// MarkInvoicePaid moves an unpaid invoice to paid
func (t *pgTx) MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	query := `UPDATE invoices SET status = $1, paid_at = $2, updated_at = $2
			  WHERE id = $3 AND status = $4`
	res, err := t.tx.ExecContext(ctx, query, models.InvoiceStatusPaid, paidAt, id, models.InvoiceStatusUnpaid)
	if err != nil {
		return false, translate(err)
	}
	return t.changed(ctx, res, "invoices", id)
}

// TransitionInvoice updates the status of an invoice if it is still in one of the from states
func (t *pgTx) TransitionInvoice(ctx context.Context, id string, to models.InvoiceStatus, at time.Time, from ...models.InvoiceStatus) (bool, error) {
	query := `UPDATE invoices SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`
	res, err := t.tx.ExecContext(ctx, query, to, at, id, statusArgs(from))
	if err != nil {
		return false, translate(err)
	}
	return t.changed(ctx, res, "invoices", id)
}

// SetPaymentRefs stores the gateway identifiers of an invoice
func (t *pgTx) SetPaymentRefs(ctx context.Context, id string, refs models.PaymentRefs, at time.Time) error {
	query := `UPDATE invoices SET payment_session_id = $1, payment_intent_id = $2,
			  external_invoice_id = $3, payment_link_url = $4, updated_at = $5
			  WHERE id = $6`
	res, err := t.tx.ExecContext(ctx, query,
		refs.PaymentSessionID, refs.PaymentIntentID, refs.ExternalInvoiceID, refs.PaymentLinkURL, at, id)
	if err != nil {
		return translate(err)
	}
	_, err = t.changed(ctx, res, "invoices", id)
	return err
}
