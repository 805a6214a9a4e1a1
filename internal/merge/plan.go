// Package merge folds a guest cart into the authenticated user's server cart.
package merge

import (
	"sort"

	"finitefield.org/hanko-storefront/internal/domain"
)

// DefaultStockCeiling bounds quantities when neither cart knows a stock value.
const DefaultStockCeiling = 99

// Action says what a plan entry requires of the server.
type Action string

const (
	// ActionKeep leaves the server line as it is.
	ActionKeep Action = "keep"
	// ActionUpdate sets an existing server line to Quantity.
	ActionUpdate Action = "update"
	// ActionAdd creates a server line with Quantity.
	ActionAdd Action = "add"
)

// Entry is one merged cart line.
type Entry struct {
	ProductID    string
	ServerItemID string
	Action       Action
	// Quantity is the merged target quantity.
	Quantity int
	// RemoteQuantity is what the server held before the merge (0 for new lines).
	RemoteQuantity int
	// FromLocal marks entries that consume a guest cart line.
	FromLocal bool
}

// Plan is the merged cart, ordered by product id.
type Plan struct {
	Entries []Entry
}

// LocalCount is the number of guest lines folded in.
func (p Plan) LocalCount() int {
	n := 0
	for _, e := range p.Entries {
		if e.FromLocal {
			n++
		}
	}
	return n
}

// Changes is the number of entries that need a server call under the diff strategy.
func (p Plan) Changes() int {
	n := 0
	for _, e := range p.Entries {
		if e.Action != ActionKeep {
			n++
		}
	}
	return n
}

// Quantities maps product id to merged quantity.
func (p Plan) Quantities() map[string]int {
	out := make(map[string]int, len(p.Entries))
	for _, e := range p.Entries {
		out[e.ProductID] = e.Quantity
	}
	return out
}

// BuildPlan merges local into remote. A product present on both sides gets
// min(remote+local, ceiling), where the ceiling is the remote stock, else the local stock,
// else defaultCeiling. A local-only product gets min(local, local stock or defaultCeiling).
// Guest lines for the same product are summed first.
func BuildPlan(local []domain.CartItem, remote []domain.RemoteCartRecord, defaultCeiling int) Plan {
	if defaultCeiling <= 0 {
		defaultCeiling = DefaultStockCeiling
	}

	entries := make(map[string]*Entry, len(remote)+len(local))
	stock := make(map[string]int, len(remote))
	for _, rec := range remote {
		if rec.ProductID == "" {
			continue
		}
		if existing, ok := entries[rec.ProductID]; ok {
			existing.Quantity += rec.Quantity
			existing.RemoteQuantity += rec.Quantity
			continue
		}
		entries[rec.ProductID] = &Entry{
			ProductID:      rec.ProductID,
			ServerItemID:   rec.ServerItemID,
			Action:         ActionKeep,
			Quantity:       rec.Quantity,
			RemoteQuantity: rec.Quantity,
		}
		stock[rec.ProductID] = rec.Stock
	}

	for _, item := range guestLines(local) {
		if entry, ok := entries[item.ProductID]; ok {
			ceiling := firstPositive(stock[item.ProductID], item.StockCeiling, defaultCeiling)
			entry.Quantity = min(entry.RemoteQuantity+item.Quantity, ceiling)
			entry.FromLocal = true
			if entry.Quantity != entry.RemoteQuantity {
				entry.Action = ActionUpdate
			}
			continue
		}
		ceiling := firstPositive(item.StockCeiling, defaultCeiling)
		entries[item.ProductID] = &Entry{
			ProductID: item.ProductID,
			Action:    ActionAdd,
			Quantity:  min(item.Quantity, ceiling),
			FromLocal: true,
		}
	}

	plan := Plan{Entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		plan.Entries = append(plan.Entries, *e)
	}
	sort.Slice(plan.Entries, func(i, j int) bool { return plan.Entries[i].ProductID < plan.Entries[j].ProductID })
	return plan
}

func guestLines(local []domain.CartItem) []domain.CartItem {
	merged := make(map[string]domain.CartItem, len(local))
	order := make([]string, 0, len(local))
	for _, item := range local {
		if item.ProductID == "" || item.Quantity <= 0 {
			continue
		}
		if existing, ok := merged[item.ProductID]; ok {
			existing.Quantity += item.Quantity
			existing.StockCeiling = max(existing.StockCeiling, item.StockCeiling)
			merged[item.ProductID] = existing
			continue
		}
		merged[item.ProductID] = item
		order = append(order, item.ProductID)
	}
	out := make([]domain.CartItem, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
