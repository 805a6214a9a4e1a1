// Package testutil provides an in-process storefront API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
)

// Product is a catalogue entry served by the fake.
type Product struct {
	ID         int
	Name       string
	Price      float64
	FinalPrice float64
	ImageURL   string
	Stock      int
}

// Line is a server-side cart line.
type Line struct {
	ItemID    int
	ProductID int
	Quantity  int
}

type fakeUser struct {
	id       int
	username string
	email    string
	password string
}

type injectedFailure struct {
	status  int
	message string
}

// FakeAPI emulates the storefront endpoints under /api with HS256 access and refresh tokens.
// Every access token carries a generation claim; ExpireAccessTokens bumps the generation so
// previously issued access tokens answer 401.
type FakeAPI struct {
	URL    string
	server *httptest.Server
	secret []byte

	mu             sync.Mutex
	users          map[string]*fakeUser
	products       map[int]Product
	carts          map[int][]Line
	nextUserID     int
	nextItemID     int
	generation     int
	issued         int
	refreshEnabled bool
	issueRefresh   bool
	omitUser       bool
	calls          map[string]int
	failures       map[string][]injectedFailure
	now            func() time.Time
}

// NewFakeAPI starts the fake and registers its shutdown with t.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		secret:         []byte("storefront-test-secret"),
		users:          map[string]*fakeUser{},
		products:       map[int]Product{},
		carts:          map[int][]Line{},
		nextUserID:     1,
		nextItemID:     100,
		refreshEnabled: true,
		issueRefresh:   true,
		calls:          map[string]int{},
		failures:       map[string][]injectedFailure{},
		now:            time.Now,
	}
	f.server = httptest.NewServer(f.routes())
	f.URL = f.server.URL + "/api"
	t.Cleanup(func() {
		f.server.CloseClientConnections()
		f.server.Close()
	})
	return f
}

// Client returns an HTTP client wired to the fake's listener.
func (f *FakeAPI) Client() *http.Client { return f.server.Client() }

func (f *FakeAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", f.counted("POST /auth/login", f.handleLogin))
		r.Post("/auth/register", f.counted("POST /auth/register", f.handleRegister))
		r.Get("/auth/verify", f.counted("GET /auth/verify", f.withUser(f.handleVerify)))
		r.Post("/auth/refresh", f.counted("POST /auth/refresh", f.handleRefresh))
		r.Get("/cart", f.counted("GET /cart", f.withUser(f.handleList)))
		r.Post("/cart/add", f.counted("POST /cart/add", f.withUser(f.handleAdd)))
		r.Put("/cart/update/{itemID}", f.counted("PUT /cart/update", f.withUser(f.handleUpdate)))
		r.Delete("/cart/remove/{itemID}", f.counted("DELETE /cart/remove", f.withUser(f.handleRemove)))
		r.Delete("/cart/clear", f.counted("DELETE /cart/clear", f.withUser(f.handleClear)))
	})
	return r
}

// AddUser registers an account and returns its id.
func (f *FakeAPI) AddUser(username, email, password string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addUserLocked(username, email, password).id
}

func (f *FakeAPI) addUserLocked(username, email, password string) *fakeUser {
	u := &fakeUser{id: f.nextUserID, username: username, email: email, password: password}
	f.nextUserID++
	f.users[username] = u
	return u
}

// AddProduct makes p available to the cart endpoints.
func (f *FakeAPI) AddProduct(p Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = p
}

// SeedCart puts quantity of productID into userID's server cart.
func (f *FakeAPI) SeedCart(userID, productID, quantity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[userID] = append(f.carts[userID], Line{ItemID: f.nextItemID, ProductID: productID, Quantity: quantity})
	f.nextItemID++
}

// Cart returns userID's server cart ordered by product id.
func (f *FakeAPI) Cart(userID int) []Line {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := append([]Line(nil), f.carts[userID]...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// Quantities maps product id to quantity for userID's server cart.
func (f *FakeAPI) Quantities(userID int) map[int]int {
	out := map[int]int{}
	for _, line := range f.Cart(userID) {
		out[line.ProductID] = line.Quantity
	}
	return out
}

// IssueTokens signs an access/refresh pair for userID.
func (f *FakeAPI) IssueTokens(userID int) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signLocked(userID, "access"), f.signLocked(userID, "refresh")
}

// ExpireAccessTokens invalidates every access token issued so far.
func (f *FakeAPI) ExpireAccessTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
}

// SetRefreshEnabled controls whether /auth/refresh accepts refresh tokens.
func (f *FakeAPI) SetRefreshEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshEnabled = enabled
}

// SetIssueRefreshTokens controls whether login and register return a refresh token.
func (f *FakeAPI) SetIssueRefreshTokens(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueRefresh = enabled
}

// SetOmitUser makes login and register return tokens without a user object.
func (f *FakeAPI) SetOmitUser(omit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitUser = omit
}

// FailNext makes the next call to route (e.g. "POST /cart/add") answer status with message.
// Status 0 drops the connection instead.
func (f *FakeAPI) FailNext(route string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = append(f.failures[route], injectedFailure{status: status, message: message})
}

// Calls reports how many times route was hit.
func (f *FakeAPI) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// ResetCalls zeroes every counter.
func (f *FakeAPI) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[string]int{}
}

func (f *FakeAPI) counted(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		var failure *injectedFailure
		if queue := f.failures[route]; len(queue) > 0 {
			failure = &queue[0]
			f.failures[route] = queue[1:]
		}
		f.mu.Unlock()

		if failure != nil {
			if failure.status == 0 {
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, err := hj.Hijack(); err == nil {
						_ = conn.Close()
						return
					}
				}
				failure.status = http.StatusBadGateway
			}
			writeJSON(w, failure.status, map[string]string{"message": failure.message})
			return
		}
		next(w, r)
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int)

func (f *FakeAPI) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := f.authorize(r, "access")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
			return
		}
		next(w, r, userID)
	}
}

func (f *FakeAPI) authorize(r *http.Request, kind string) (int, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return 0, false
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return f.secret, nil })
	if err != nil || !token.Valid {
		return 0, false
	}
	if claims["type"] != kind {
		return 0, false
	}
	sub, _ := claims["sub"].(string)
	userID, err := strconv.Atoi(sub)
	if err != nil {
		return 0, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == "access" {
		gen, _ := claims["gen"].(float64)
		if int(gen) != f.generation {
			return 0, false
		}
	}
	if kind == "refresh" && !f.refreshEnabled {
		return 0, false
	}
	return userID, true
}

func (f *FakeAPI) signLocked(userID int, kind string) string {
	now := f.now()
	f.issued++
	claims := jwt.MapClaims{
		"sub":  strconv.Itoa(userID),
		"type": kind,
		"gen":  f.generation,
		"iat":  now.Unix(),
		"jti":  fmt.Sprintf("%s-%d-%d", kind, userID, f.issued),
		"exp":  now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

func (f *FakeAPI) tokenPayload(u *fakeUser, message string) map[string]any {
	payload := map[string]any{
		"message":      message,
		"access_token": f.signLocked(u.id, "access"),
	}
	if f.issueRefresh {
		payload["refresh_token"] = f.signLocked(u.id, "refresh")
	}
	if !f.omitUser {
		payload["user"] = map[string]any{"id": u.id, "username": u.username, "email": u.email}
	}
	return payload
}

func (f *FakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[body.Username]
	if !ok || u.password != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, f.tokenPayload(u, "Login successful"))
}

func (f *FakeAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[body.Username]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Username already exists"})
		return
	}
	u := f.addUserLocked(body.Username, body.Email, body.Password)
	writeJSON(w, http.StatusCreated, f.tokenPayload(u, "User registered successfully"))
}

func (f *FakeAPI) handleVerify(w http.ResponseWriter, _ *http.Request, userID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.id == userID {
			writeJSON(w, http.StatusOK, map[string]any{
				"user": map[string]any{"id": u.id, "username": u.username, "email": u.email},
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
}

func (f *FakeAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := f.authorize(r, "refresh")
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"access_token": f.signLocked(userID, "access")})
}

func (f *FakeAPI) handleList(w http.ResponseWriter, _ *http.Request, userID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]map[string]any, 0, len(f.carts[userID]))
	total := 0.0
	for _, line := range f.carts[userID] {
		p := f.products[line.ProductID]
		price := p.Price
		if p.FinalPrice > 0 {
			price = p.FinalPrice
		}
		total += price * float64(line.Quantity)
		product := map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"price":     p.Price,
			"image_url": p.ImageURL,
			"stock":     p.Stock,
		}
		if p.FinalPrice > 0 {
			product["final_price"] = p.FinalPrice
		}
		items = append(items, map[string]any{
			"id":         line.ItemID,
			"product_id": line.ProductID,
			"quantity":   line.Quantity,
			"product":    product,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cart":       map[string]any{"user_id": userID, "is_active": true},
		"items":      items,
		"total":      total,
		"item_count": len(items),
	})
}

func (f *FakeAPI) handleAdd(w http.ResponseWriter, r *http.Request, userID int) {
	var body struct {
		ProductID json.Number `json:"product_id"`
		Quantity  int         `json:"quantity"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body.ProductID == "" || body.Quantity == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "product_id and quantity are required"})
		return
	}
	if body.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Quantity must be greater than 0"})
		return
	}
	productID, err := strconv.Atoi(body.ProductID.String())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid product_id"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Product not found"})
		return
	}
	lines := f.carts[userID]
	for i := range lines {
		if lines[i].ProductID != productID {
			continue
		}
		if lines[i].Quantity+body.Quantity > p.Stock {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": insufficientStock(p.Stock)})
			return
		}
		lines[i].Quantity += body.Quantity
		writeJSON(w, http.StatusOK, map[string]string{"message": "Product added to cart"})
		return
	}
	if body.Quantity > p.Stock {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": insufficientStock(p.Stock)})
		return
	}
	f.carts[userID] = append(lines, Line{ItemID: f.nextItemID, ProductID: productID, Quantity: body.Quantity})
	f.nextItemID++
	writeJSON(w, http.StatusOK, map[string]string{"message": "Product added to cart"})
}

func (f *FakeAPI) handleUpdate(w http.ResponseWriter, r *http.Request, userID int) {
	itemID, err := strconv.Atoi(chi.URLParam(r, "itemID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Item not found in cart"})
		return
	}
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Quantity must be greater than 0"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.carts[userID]
	for i := range lines {
		if lines[i].ItemID != itemID {
			continue
		}
		if stock := f.products[lines[i].ProductID].Stock; body.Quantity > stock {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": insufficientStock(stock)})
			return
		}
		lines[i].Quantity = body.Quantity
		writeJSON(w, http.StatusOK, map[string]string{"message": "Quantity updated"})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Item not found in cart"})
}

func (f *FakeAPI) handleRemove(w http.ResponseWriter, r *http.Request, userID int) {
	itemID, _ := strconv.Atoi(chi.URLParam(r, "itemID"))
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := f.carts[userID]
	for i := range lines {
		if lines[i].ItemID == itemID {
			f.carts[userID] = append(lines[:i:i], lines[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Product removed from cart"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Item not found in cart"})
}

func (f *FakeAPI) handleClear(w http.ResponseWriter, _ *http.Request, userID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared"})
}

func insufficientStock(stock int) string {
	return fmt.Sprintf("Insufficient stock. Only %d units available", stock)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
