package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/hanko-storefront/internal/cart"
	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/httpx"
	"finitefield.org/hanko-storefront/internal/session"
)

// CartService is the slice of the cart engine the handlers drive.
type CartService interface {
	Snapshot() cart.Snapshot
	Refresh(ctx context.Context) error
	AddItem(ctx context.Context, item domain.CartItem) error
	UpdateQuantity(ctx context.Context, productID string, quantity int) error
	RemoveItem(ctx context.Context, productID string) error
	ClearCart(ctx context.Context) error
	RetryMerge(ctx context.Context) error
}

// CartHandlers serves the /cart group.
type CartHandlers struct {
	cart CartService
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(svc CartService) *CartHandlers {
	return &CartHandlers{cart: svc}
}

// Routes registers the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/merge/retry", h.retryMerge)
}

type cartItemPayload struct {
	ProductID    string  `json:"product_id"`
	ServerItemID string  `json:"server_item_id,omitempty"`
	Name         string  `json:"name"`
	UnitPrice    float64 `json:"unit_price"`
	ImageURL     string  `json:"image_url,omitempty"`
	Quantity     int     `json:"quantity"`
	Stock        int     `json:"stock"`
	Subtotal     float64 `json:"subtotal"`
}

type cartPayload struct {
	Items   []cartItemPayload `json:"items"`
	Total   float64           `json:"total"`
	Loading bool              `json:"loading"`
	Error   string            `json:"error,omitempty"`
}

type addItemRequest struct {
	ProductID domain.WireID `json:"product_id"`
	Name      string        `json:"name"`
	Price     float64       `json:"price"`
	ImageURL  string        `json:"image_url"`
	Quantity  *int          `json:"quantity"`
	Stock     int           `json:"stock"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := h.cart.Refresh(ctx); err != nil {
			h.writeFailure(ctx, w, err)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, newCartPayload(h.cart.Snapshot()))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	productID := strings.TrimSpace(req.ProductID.String())
	switch {
	case productID == "":
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_id is required", http.StatusBadRequest))
		return
	case req.Price < 0:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price must not be negative", http.StatusBadRequest))
		return
	case req.Stock < 0:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "stock must not be negative", http.StatusBadRequest))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be positive", http.StatusBadRequest))
		return
	}

	err := h.cart.AddItem(ctx, domain.CartItem{
		ProductID:    productID,
		Name:         strings.TrimSpace(req.Name),
		UnitPrice:    domain.MoneyFromDecimal(req.Price),
		ImageRef:     strings.TrimSpace(req.ImageURL),
		Quantity:     quantity,
		StockCeiling: req.Stock,
	})
	h.respond(ctx, w, http.StatusCreated, err)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	var req updateItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	if _, ok := findItem(h.cart.Snapshot(), productID); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "product is not in the cart", http.StatusNotFound))
		return
	}
	h.respond(ctx, w, http.StatusOK, h.cart.UpdateQuantity(ctx, productID, *req.Quantity))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	h.respond(ctx, w, http.StatusOK, h.cart.RemoveItem(ctx, productID))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.respond(ctx, w, http.StatusOK, h.cart.ClearCart(ctx))
}

func (h *CartHandlers) retryMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.respond(ctx, w, http.StatusOK, h.cart.RetryMerge(ctx))
}

// respond writes the post-operation cart. A failed operation still carries the resynced cart
// so the caller can render it next to the message.
func (h *CartHandlers) respond(ctx context.Context, w http.ResponseWriter, status int, err error) {
	if err != nil {
		h.writeFailure(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, newCartPayload(h.cart.Snapshot()))
}

func (h *CartHandlers) writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotAuthenticated) {
		httpx.WriteError(ctx, w, httpx.NewError("not_authenticated", "sign in to merge the cart", http.StatusUnauthorized))
		return
	}
	writeDomainError(ctx, w, err, map[string]any{"cart": newCartPayload(h.cart.Snapshot())})
}

func newCartPayload(snapshot cart.Snapshot) cartPayload {
	items := make([]cartItemPayload, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		items = append(items, cartItemPayload{
			ProductID:    item.ProductID,
			ServerItemID: item.ServerItemID,
			Name:         item.Name,
			UnitPrice:    item.UnitPrice.Decimal(),
			ImageURL:     item.ImageRef,
			Quantity:     item.Quantity,
			Stock:        item.StockCeiling,
			Subtotal:     item.Subtotal().Decimal(),
		})
	}
	return cartPayload{
		Items:   items,
		Total:   snapshot.Total.Decimal(),
		Loading: snapshot.Loading,
		Error:   snapshot.Error,
	}
}

func findItem(snapshot cart.Snapshot, productID string) (domain.CartItem, bool) {
	for _, item := range snapshot.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return domain.CartItem{}, false
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
