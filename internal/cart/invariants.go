package cart

import (
	"fmt"

	"finitefield.org/hanko-storefront/internal/domain"
)

// Snapshot is the read-only view handed to the rest of the application.
type Snapshot struct {
	Items   []domain.CartItem
	Total   domain.Money
	Loading bool
	Error   string
}

// Snapshot copies the state into a Snapshot.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Items:   s.Items(),
		Total:   s.Total,
		Loading: s.Loading,
		Error:   s.Error,
	}
}

// CheckInvariants verifies 1 ≤ quantity ≤ stock for every line and that the total equals
// the sum of line subtotals.
func CheckInvariants(s State) error {
	var sum domain.Money
	for id, item := range s.items {
		if id != item.ProductID {
			return fmt.Errorf("cart: line keyed %q holds product %q", id, item.ProductID)
		}
		if item.Quantity < 1 || item.Quantity > item.StockCeiling {
			return fmt.Errorf("cart: product %q quantity %d outside [1, %d]", id, item.Quantity, item.StockCeiling)
		}
		sum += item.Subtotal()
	}
	if sum != s.Total {
		return fmt.Errorf("cart: total %s does not match line sum %s", s.Total, sum)
	}
	return nil
}
