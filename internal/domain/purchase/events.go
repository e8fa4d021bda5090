package purchase

import "time"

// RemainingStock is the post-commit quantity of one purchased product,
// carried on the completed event for consumers such as the low-stock watcher.
type RemainingStock struct {
	ProductID string
	Quantity  int
}

// CompletedEvent is emitted after a purchase transaction commits.
type CompletedEvent struct {
	PurchaseID    string
	PurchaserID   string
	InvoiceNumber string
	TotalCents    int64
	Remaining     []RemainingStock
	OccurredAt    time.Time
}

func (CompletedEvent) EventName() string { return "purchase.completed" }

func NewCompletedEvent(p *Purchase, remaining []RemainingStock) CompletedEvent {
	return CompletedEvent{
		PurchaseID:    p.ID,
		PurchaserID:   p.PurchaserID,
		InvoiceNumber: p.InvoiceNumber,
		TotalCents:    p.TotalCents,
		Remaining:     remaining,
		OccurredAt:    time.Now().UTC(),
	}
}
