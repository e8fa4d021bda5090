package purchase

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Line is one purchased product within a purchase. UnitPriceCents is the
// catalog price frozen at transaction time; later catalog edits never
// change it. SubtotalCents is always derived server-side, never trusted
// from input.
type Line struct {
	ID             string
	PurchaseID     string
	ProductID      string
	Quantity       int
	UnitPriceCents int64
	SubtotalCents  int64
}

type Purchase struct {
	ID            string
	PurchaserID   string
	InvoiceNumber string
	TotalCents    int64
	Status        Status
	CreatedAt     time.Time
	Lines         []Line
}

// New assembles a completed purchase from priced lines. Subtotals and the
// total are recomputed here so the stored record always satisfies
// total == sum(quantity * unit price) regardless of what the caller set.
func New(id, purchaserID, invoiceNumber string, lines []Line) (*Purchase, error) {
	if purchaserID == "" {
		return nil, &ValidationError{Reason: "purchaser id is required"}
	}
	if invoiceNumber == "" {
		return nil, &ValidationError{Reason: "invoice number is required"}
	}
	if len(lines) == 0 {
		return nil, &ValidationError{Reason: "a purchase requires at least one line"}
	}

	var total int64
	out := make([]Line, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, &ValidationError{Reason: "line quantity must be greater than zero"}
		}
		if l.UnitPriceCents <= 0 {
			return nil, &ValidationError{Reason: "line unit price must be greater than zero"}
		}
		l.PurchaseID = id
		l.SubtotalCents = int64(l.Quantity) * l.UnitPriceCents
		total += l.SubtotalCents
		out[i] = l
	}

	return &Purchase{
		ID:            id,
		PurchaserID:   purchaserID,
		InvoiceNumber: invoiceNumber,
		TotalCents:    total,
		Status:        StatusCompleted,
		CreatedAt:     time.Now().UTC(),
		Lines:         out,
	}, nil
}

// MarkCancelled is used by out-of-band processes (refunds, cancellations);
// the transaction core itself only ever produces completed purchases.
func (p *Purchase) MarkCancelled() error {
	if p.Status == StatusCancelled {
		return nil
	}
	if p.Status != StatusCompleted && p.Status != StatusPending {
		return ErrInvalidStatusTransition
	}
	p.Status = StatusCancelled
	return nil
}

func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Lines = make([]Line, len(p.Lines))
	copy(clone.Lines, p.Lines)
	return &clone
}
