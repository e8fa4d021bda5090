package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProduct(t *testing.T) {
	p, err := New("p1", "LOT-001", "Widget", 1000, 5)
	require.NoError(t, err)

	assert.True(t, p.Active)
	assert.Equal(t, 5, p.Quantity)
	assert.Equal(t, int64(1000), p.UnitPriceCents)
	assert.Equal(t, p.CreatedAt, p.UpdatedAt)

	t.Run("rejects empty lot code", func(t *testing.T) {
		_, err := New("p1", "", "Widget", 1000, 5)
		require.ErrorIs(t, err, ErrInvalidLotCode)
	})
	t.Run("rejects non-positive price", func(t *testing.T) {
		_, err := New("p1", "LOT-001", "Widget", 0, 5)
		require.ErrorIs(t, err, ErrInvalidPrice)
	})
	t.Run("rejects negative quantity", func(t *testing.T) {
		_, err := New("p1", "LOT-001", "Widget", 1000, -1)
		require.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

func TestRestock(t *testing.T) {
	p, err := New("p1", "LOT-001", "Widget", 1000, 2)
	require.NoError(t, err)

	require.NoError(t, p.Restock(3))
	assert.Equal(t, 5, p.Quantity)

	require.ErrorIs(t, p.Restock(0), ErrInvalidQuantity)
	require.ErrorIs(t, p.Restock(-1), ErrInvalidQuantity)
	assert.Equal(t, 5, p.Quantity)
}

func TestDeactivate(t *testing.T) {
	p, err := New("p1", "LOT-001", "Widget", 1000, 2)
	require.NoError(t, err)

	p.Deactivate()
	assert.False(t, p.Active)
}
