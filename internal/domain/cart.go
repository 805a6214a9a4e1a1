package domain

import (
	"fmt"
	"math"
)

// Money is an amount in minor currency units (cents). Integer arithmetic keeps cart
// totals exact regardless of how many mutations are applied.
type Money int64

// MoneyFromDecimal converts a decimal amount such as 19.99 into minor units.
func MoneyFromDecimal(amount float64) Money {
	return Money(math.Round(amount * 100))
}

// Decimal returns the amount in major units.
func (m Money) Decimal() float64 {
	return float64(m) / 100
}

// String renders the amount with two decimal places.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// CartItem is one product line in the canonical cart.
type CartItem struct {
	ProductID string
	// ServerItemID is the remote cart's identifier for this line. Empty for guest carts
	// and for optimistic lines that have not been re-fetched yet.
	ServerItemID string
	Name         string
	UnitPrice    Money
	ImageRef     string
	Quantity     int
	StockCeiling int
}

// Subtotal is UnitPrice × Quantity.
func (i CartItem) Subtotal() Money {
	return i.UnitPrice * Money(i.Quantity)
}

// RemoteCartRecord is a cart line as reported by the remote cart service.
type RemoteCartRecord struct {
	ServerItemID string
	ProductID    string
	Quantity     int
	Stock        int
	Name         string
	UnitPrice    Money
	ImageRef     string
}

// CartItem converts the remote record to a canonical cart line.
func (r RemoteCartRecord) CartItem() CartItem {
	return CartItem{
		ProductID:    r.ProductID,
		ServerItemID: r.ServerItemID,
		Name:         r.Name,
		UnitPrice:    r.UnitPrice,
		ImageRef:     r.ImageRef,
		Quantity:     r.Quantity,
		StockCeiling: r.Stock,
	}
}

// CartItemsFromRemote converts a remote listing into canonical cart lines.
func CartItemsFromRemote(records []RemoteCartRecord) []CartItem {
	items := make([]CartItem, 0, len(records))
	for _, record := range records {
		items = append(items, record.CartItem())
	}
	return items
}

// ClampQuantity bounds qty to [1, ceiling]. A non-positive ceiling yields 0, meaning the
// line cannot be held at all.
func ClampQuantity(qty, ceiling int) int {
	if ceiling <= 0 {
		return 0
	}
	if qty < 1 {
		return 1
	}
	if qty > ceiling {
		return ceiling
	}
	return qty
}
