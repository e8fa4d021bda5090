package purchase

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	domain "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/observability"

	"github.com/google/uuid"
)

// maxInvoiceAttempts bounds the retry loop; exceeding it fails the whole
// transaction instead of spinning.
const maxInvoiceAttempts = 5

// Sequencer issues invoice numbers built from a UTC timestamp component and
// a random disambiguator, verified unique against the record store inside
// the active transaction. The timestamp makes numbers roughly chronological
// but uniqueness is never assumed from it; only the in-transaction check
// guarantees the committed value.
type Sequencer struct {
	now     func() time.Time
	retries observability.Counter
}

func NewSequencer(tel observability.Telemetry) *Sequencer {
	retries := observability.NopCounter()
	if tel != nil {
		retries = tel.Counter(observability.MInvoiceRetries)
	}
	return &Sequencer{
		now:     time.Now,
		retries: retries,
	}
}

// Next returns an invoice number not present in the store as seen by tx.
// A collision triggers a fresh candidate, up to maxInvoiceAttempts; after
// that the attempt fails with ErrSequencingExhausted.
func (s *Sequencer) Next(ctx context.Context, tx domain.Tx) (string, error) {
	for attempt := 1; attempt <= maxInvoiceAttempts; attempt++ {
		candidate := s.candidate()

		exists, err := tx.InvoiceExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("invoice lookup: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		s.retries.Add(1)
	}
	return "", domain.ErrSequencingExhausted
}

func (s *Sequencer) candidate() string {
	ts := s.now().UTC().Format("20060102150405")
	u := uuid.New()
	suffix := binary.BigEndian.Uint32(u[:4])
	return fmt.Sprintf("INV-%s-%08X", ts, suffix)
}
