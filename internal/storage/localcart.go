package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"finitefield.org/hanko-storefront/internal/domain"
)

// LocalCart reads and writes the guest cart under KeyCart.
type LocalCart struct {
	store Store
}

// NewLocalCart wraps store.
func NewLocalCart(store Store) *LocalCart {
	return &LocalCart{store: store}
}

type localCartDocument struct {
	Items []localCartLine `json:"items"`
}

type localCartLine struct {
	ProductID domain.WireID `json:"productId"`
	Name      string        `json:"name,omitempty"`
	Price     float64       `json:"price"`
	ImageURL  string        `json:"image_url,omitempty"`
	Quantity  int           `json:"quantity"`
	Stock     int           `json:"stock"`
}

// Load returns the persisted guest cart lines. A missing key yields an empty slice; a
// corrupt document yields an error and callers treat the cart as empty.
func (c *LocalCart) Load(ctx context.Context) ([]domain.CartItem, error) {
	raw, ok, err := c.store.Get(ctx, KeyCart)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []domain.CartItem{}, nil
	}
	var doc localCartDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return []domain.CartItem{}, fmt.Errorf("storage: decode local cart: %w", err)
	}
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, line := range doc.Items {
		if line.ProductID == "" {
			continue
		}
		items = append(items, domain.CartItem{
			ProductID:    line.ProductID.String(),
			Name:         line.Name,
			UnitPrice:    domain.MoneyFromDecimal(line.Price),
			ImageRef:     line.ImageURL,
			Quantity:     line.Quantity,
			StockCeiling: line.Stock,
		})
	}
	return items, nil
}

// Save replaces the persisted guest cart.
func (c *LocalCart) Save(ctx context.Context, items []domain.CartItem) error {
	doc := localCartDocument{Items: make([]localCartLine, 0, len(items))}
	for _, item := range items {
		doc.Items = append(doc.Items, localCartLine{
			ProductID: domain.WireID(item.ProductID),
			Name:      item.Name,
			Price:     item.UnitPrice.Decimal(),
			ImageURL:  item.ImageRef,
			Quantity:  item.Quantity,
			Stock:     item.StockCeiling,
		})
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: encode local cart: %w", err)
	}
	return c.store.Set(ctx, KeyCart, string(raw))
}

// Remove drops the line for productID and persists the rest. The returned slice is what
// remains.
func (c *LocalCart) Remove(ctx context.Context, productID string) ([]domain.CartItem, error) {
	items, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		return kept, c.Discard(ctx)
	}
	return kept, c.Save(ctx, kept)
}

// Discard deletes the guest cart.
func (c *LocalCart) Discard(ctx context.Context) error {
	return c.store.Delete(ctx, KeyCart)
}
