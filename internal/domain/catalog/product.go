package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("catalog: product not found")
	ErrLotCodeTaken     = errors.New("catalog: lot code already in use")
	ErrInvalidLotCode   = errors.New("catalog: lot code is required")
	ErrInvalidPrice     = errors.New("catalog: unit price must be greater than zero")
	ErrInvalidQuantity  = errors.New("catalog: quantity must be zero or greater")
	ErrProductInactive  = errors.New("catalog: product is inactive")
	ErrHasPurchaseLines = errors.New("catalog: product is referenced by purchase lines")
)

// Product is a catalog entry. UnitPriceCents is fixed-point currency in
// cents; Quantity is the available stock the purchase core decrements
// under lock. The lot code is unique and immutable after creation.
type Product struct {
	ID             string
	LotCode        string
	Name           string
	UnitPriceCents int64
	Quantity       int
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func New(id, lotCode, name string, unitPriceCents int64, quantity int) (*Product, error) {
	if lotCode == "" {
		return nil, ErrInvalidLotCode
	}
	if unitPriceCents <= 0 {
		return nil, ErrInvalidPrice
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	now := time.Now().UTC()
	return &Product{
		ID:             id,
		LotCode:        lotCode,
		Name:           name,
		UnitPriceCents: unitPriceCents,
		Quantity:       quantity,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Restock adds quantity to the available stock. Decrements are not done
// here: only the purchase transaction may reduce stock, under lock.
func (p *Product) Restock(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Quantity += quantity
	p.touch()
	return nil
}

func (p *Product) Deactivate() {
	p.Active = false
	p.touch()
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
