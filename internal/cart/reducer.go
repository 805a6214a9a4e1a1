// Package cart holds the canonical in-memory cart and the pure reducer that mutates it.
package cart

import (
	"sort"
	"strings"

	"finitefield.org/hanko-storefront/internal/domain"
)

// State is the canonical cart. Values are immutable: Reduce always returns a fresh State and
// never mutates the receiver's map.
type State struct {
	items   map[string]domain.CartItem
	Total   domain.Money
	Loading bool
	Error   string
}

// Empty returns the initial state.
func Empty() State {
	return State{items: map[string]domain.CartItem{}}
}

// Items returns the cart lines ordered by product id.
func (s State) Items() []domain.CartItem {
	out := make([]domain.CartItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Item looks up a line by product id.
func (s State) Item(productID string) (domain.CartItem, bool) {
	item, ok := s.items[productID]
	return item, ok
}

// Len reports the number of distinct products.
func (s State) Len() int { return len(s.items) }

// Action is a reducer input. The set of actions is closed.
type Action interface {
	apply(State) State
}

// SetCart replaces the cart wholesale. Used after every fetch and merge. Lines that violate
// the quantity invariant are clamped; lines with no stock are dropped.
type SetCart struct {
	Items []domain.CartItem
}

// AddItem merges Item into the cart, capping the quantity at the stock ceiling.
// Item.Quantity is the requested amount to add.
type AddItem struct {
	Item domain.CartItem
}

// RemoveItem deletes a line. Removing an absent product is a no-op.
type RemoveItem struct {
	ProductID string
}

// UpdateQuantity sets a line's quantity, clamped to [1, stock].
type UpdateQuantity struct {
	ProductID string
	Quantity  int
}

// ClearCart empties the cart.
type ClearCart struct{}

// SetLoading marks a network refresh in flight.
type SetLoading struct{}

// SetError records a user-facing message and leaves the lines untouched.
type SetError struct {
	Message string
}

// Reduce applies action to state. It performs no I/O and never fails; unknown or nil
// actions return the state unchanged.
func Reduce(state State, action Action) State {
	if action == nil {
		return state
	}
	if state.items == nil {
		state.items = map[string]domain.CartItem{}
	}
	return action.apply(state)
}

func (a SetCart) apply(s State) State {
	items := make(map[string]domain.CartItem, len(a.Items))
	for _, item := range a.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if existing, ok := items[item.ProductID]; ok {
			item.Quantity += existing.Quantity
		}
		item.Quantity = domain.ClampQuantity(item.Quantity, item.StockCeiling)
		if item.Quantity == 0 {
			continue
		}
		items[item.ProductID] = item
	}
	return settled(s, items)
}

func (a AddItem) apply(s State) State {
	req := a.Item
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Quantity <= 0 {
		return s
	}

	items := cloneItems(s.items)
	if existing, ok := items[req.ProductID]; ok {
		existing.Quantity = min(existing.Quantity+req.Quantity, existing.StockCeiling)
		items[req.ProductID] = existing
		return settled(s, items)
	}

	req.Quantity = min(req.Quantity, req.StockCeiling)
	if req.Quantity <= 0 {
		return s
	}
	items[req.ProductID] = req
	return settled(s, items)
}

func (a RemoveItem) apply(s State) State {
	items := cloneItems(s.items)
	delete(items, strings.TrimSpace(a.ProductID))
	return settled(s, items)
}

func (a UpdateQuantity) apply(s State) State {
	id := strings.TrimSpace(a.ProductID)
	existing, ok := s.items[id]
	if !ok {
		return s
	}
	items := cloneItems(s.items)
	existing.Quantity = domain.ClampQuantity(a.Quantity, existing.StockCeiling)
	items[id] = existing
	return settled(s, items)
}

func (ClearCart) apply(s State) State {
	return settled(s, map[string]domain.CartItem{})
}

func (SetLoading) apply(s State) State {
	s.Loading = true
	return s
}

func (a SetError) apply(s State) State {
	s.Error = a.Message
	s.Loading = false
	return s
}

// settled installs items, recomputes the total from scratch and clears loading/error.
func settled(s State, items map[string]domain.CartItem) State {
	return State{
		items:   items,
		Total:   computeTotal(items),
		Loading: false,
		Error:   "",
	}
}

func computeTotal(items map[string]domain.CartItem) domain.Money {
	var total domain.Money
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

func cloneItems(in map[string]domain.CartItem) map[string]domain.CartItem {
	out := make(map[string]domain.CartItem, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
