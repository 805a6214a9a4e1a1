// Package cartapi is the client for the server-side cart endpoints. All calls go through a
// Doer, normally the authenticated gateway.
package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"finitefield.org/hanko-storefront/internal/domain"
)

var (
	errBaseURLRequired = errors.New("cartapi: base url is required")
	errDoerRequired    = errors.New("cartapi: http doer is required")
	errItemIDRequired  = errors.New("cartapi: server item id is required")
)

// Doer sends HTTP requests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client issues cart CRUD calls. Mutations return only an error; callers re-list to learn
// the authoritative state.
type Client struct {
	baseURL string
	doer    Doer
}

// NewClient constructs a cart client rooted at baseURL (e.g. http://host/api).
func NewClient(baseURL string, doer Doer) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	if doer == nil {
		return nil, errDoerRequired
	}
	return &Client{baseURL: baseURL, doer: doer}, nil
}

// Listing is the remote cart as returned by GET /cart.
type Listing struct {
	Items []domain.RemoteCartRecord
	// Total as computed by the server. Informational only; the reducer recomputes it.
	Total domain.Money
}

type listPayload struct {
	Items []itemPayload `json:"items"`
	Total float64       `json:"total"`
}

type itemPayload struct {
	ID        domain.WireID `json:"id"`
	ProductID domain.WireID `json:"product_id"`
	Quantity  int           `json:"quantity"`
	Product   *struct {
		Name       string   `json:"name"`
		Price      float64  `json:"price"`
		FinalPrice *float64 `json:"final_price"`
		ImageURL   string   `json:"image_url"`
		Stock      int      `json:"stock"`
	} `json:"product"`
}

func (p itemPayload) record() domain.RemoteCartRecord {
	rec := domain.RemoteCartRecord{
		ServerItemID: p.ID.String(),
		ProductID:    p.ProductID.String(),
		Quantity:     p.Quantity,
	}
	if p.Product != nil {
		price := p.Product.Price
		if p.Product.FinalPrice != nil && *p.Product.FinalPrice > 0 {
			price = *p.Product.FinalPrice
		}
		rec.Name = strings.TrimSpace(p.Product.Name)
		rec.UnitPrice = domain.MoneyFromDecimal(price)
		rec.ImageRef = strings.TrimSpace(p.Product.ImageURL)
		rec.Stock = p.Product.Stock
	}
	return rec
}

// List fetches the authoritative cart.
func (c *Client) List(ctx context.Context) (Listing, error) {
	var payload listPayload
	if err := c.call(ctx, "cart.list", http.MethodGet, nil, &payload, "cart"); err != nil {
		return Listing{}, err
	}
	listing := Listing{
		Items: make([]domain.RemoteCartRecord, 0, len(payload.Items)),
		Total: domain.MoneyFromDecimal(payload.Total),
	}
	for _, item := range payload.Items {
		if item.ProductID == "" {
			continue
		}
		listing.Items = append(listing.Items, item.record())
	}
	return listing, nil
}

// Add adds quantity of productID to the remote cart.
func (c *Client) Add(ctx context.Context, productID string, quantity int) error {
	body := struct {
		ProductID domain.WireID `json:"product_id"`
		Quantity  int           `json:"quantity"`
	}{domain.WireID(productID), quantity}
	return c.call(ctx, "cart.add", http.MethodPost, body, nil, "cart", "add")
}

// Update sets the quantity of a remote line.
func (c *Client) Update(ctx context.Context, serverItemID string, quantity int) error {
	if strings.TrimSpace(serverItemID) == "" {
		return errItemIDRequired
	}
	body := map[string]int{"quantity": quantity}
	return c.call(ctx, "cart.update", http.MethodPut, body, nil, "cart", "update", serverItemID)
}

// Remove deletes a remote line.
func (c *Client) Remove(ctx context.Context, serverItemID string) error {
	if strings.TrimSpace(serverItemID) == "" {
		return errItemIDRequired
	}
	return c.call(ctx, "cart.remove", http.MethodDelete, nil, nil, "cart", "remove", serverItemID)
}

// Clear empties the remote cart.
func (c *Client) Clear(ctx context.Context) error {
	return c.call(ctx, "cart.clear", http.MethodDelete, nil, nil, "cart", "clear")
}

func (c *Client) call(ctx context.Context, op, method string, body, out any, segments ...string) error {
	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		var typed *domain.Error
		if errors.As(err, &typed) {
			return err
		}
		return domain.NetworkError(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NetworkError(op, err)
	}
	if resp.StatusCode >= 400 {
		return domain.ServerError(op, resp.StatusCode, errorMessage(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.Error{Kind: domain.KindServer, Op: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	for _, candidate := range []string{payload.Error, payload.Message, payload.Msg} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}
