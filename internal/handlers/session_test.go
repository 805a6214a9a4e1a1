package handlers

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"finitefield.org/hanko-storefront/internal/di"
	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/config"
	"finitefield.org/hanko-storefront/internal/storage"
	"finitefield.org/hanko-storefront/internal/testutil"
)

type storefront struct {
	api    *testutil.FakeAPI
	router http.Handler
	userID int
}

func newStorefront(t *testing.T) *storefront {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	api.AddProduct(testutil.Product{ID: 1, Name: "Maple seal", Price: 12.5, Stock: 5})
	api.AddProduct(testutil.Product{ID: 2, Name: "Ink pad", Price: 4, Stock: 3})
	userID := api.AddUser("kana", "kana@example.com", "pw")

	cfg := config.Config{
		API:     config.APIConfig{BaseURL: api.URL, Timeout: 5 * time.Second, SharedRefresh: true},
		Storage: config.StorageConfig{Driver: config.StorageDriverMemory},
		Cart:    config.CartConfig{MergeStrategy: "diff", DefaultStockCeiling: 99, Currency: "USD"},
	}
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	container, err := di.NewContainer(context.Background(), cfg, di.WithHTTPClient(api.Client()), di.WithStore(store))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	container.Start(context.Background())

	router := NewRouter(
		WithCartRoutes(NewCartHandlers(container.Cart).Routes),
		WithSessionRoutes(NewSessionHandlers(container.Auth).Routes),
	)
	return &storefront{api: api, router: router, userID: userID}
}

func TestSessionHandlers_LoginMergesGuestCart(t *testing.T) {
	sf := newStorefront(t)
	sf.api.SeedCart(sf.userID, 1, 2)

	rr, _ := doJSON(t, sf.router, http.MethodPost, "/cart/items", `{"product_id":1,"name":"Maple seal","price":12.5,"quantity":2,"stock":5}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("guest add failed: %d %s", rr.Code, rr.Body.String())
	}

	rr, body := doJSON(t, sf.router, http.MethodPost, "/session/login", `{"username":"kana","password":"pw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	if body["status"] != string(domain.IdentityAuthenticated) {
		t.Fatalf("expected authenticated, got %v", body["status"])
	}
	user := body["user"].(map[string]any)
	if user["id"] != strconv.Itoa(sf.userID) {
		t.Fatalf("unexpected user id %v", user["id"])
	}

	if got := sf.api.Quantities(sf.userID)[1]; got != 4 {
		t.Fatalf("expected merged server quantity 4, got %d", got)
	}

	rr, body = doJSON(t, sf.router, http.MethodGet, "/cart", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get cart failed: %d", rr.Code)
	}
	line := body["items"].([]any)[0].(map[string]any)
	if line["quantity"].(float64) != 4 || line["server_item_id"] == "" {
		t.Fatalf("unexpected merged line %v", line)
	}
	if body["total"].(float64) != 50 {
		t.Fatalf("expected total 50, got %v", body["total"])
	}
}

func TestSessionHandlers_ServerRejectionResyncs(t *testing.T) {
	sf := newStorefront(t)
	if rr, _ := doJSON(t, sf.router, http.MethodPost, "/session/login", `{"username":"kana","password":"pw"}`); rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d", rr.Code)
	}
	sf.api.SeedCart(sf.userID, 2, 3)
	if rr, _ := doJSON(t, sf.router, http.MethodGet, "/cart?refresh=1", ""); rr.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d", rr.Code)
	}

	sf.api.FailNext("PUT /cart/update", http.StatusBadRequest, "Insufficient stock. Only 3 units available")
	rr, body := doJSON(t, sf.router, http.MethodPatch, "/cart/items/2", `{"quantity":2}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["message"] != "Insufficient stock. Only 3 units available" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	resynced := body["cart"].(map[string]any)
	line := resynced["items"].([]any)[0].(map[string]any)
	if line["quantity"].(float64) != 3 {
		t.Fatalf("expected server quantity restored, got %v", line["quantity"])
	}
}

func TestSessionHandlers_LoginFailure(t *testing.T) {
	sf := newStorefront(t)

	rr, body := doJSON(t, sf.router, http.MethodPost, "/session/login", `{"username":"kana","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if body["message"] != "Invalid credentials" {
		t.Fatalf("unexpected message %v", body["message"])
	}

	_, body = doJSON(t, sf.router, http.MethodGet, "/session", "")
	if body["status"] != string(domain.IdentitySessionError) {
		t.Fatalf("expected session_error, got %v", body["status"])
	}
	_, body = doJSON(t, sf.router, http.MethodDelete, "/session/error", "")
	if body["status"] != string(domain.IdentityAnonymous) {
		t.Fatalf("expected anonymous after clearing error, got %v", body["status"])
	}
}

func TestSessionHandlers_LoginValidation(t *testing.T) {
	sf := newStorefront(t)

	rr, _ := doJSON(t, sf.router, http.MethodPost, "/session/login", `{"username":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if sf.api.Calls("POST /auth/login") != 0 {
		t.Fatalf("invalid input must not reach the API")
	}
}

func TestSessionHandlers_RegisterAndLogout(t *testing.T) {
	sf := newStorefront(t)

	rr, body := doJSON(t, sf.router, http.MethodPost, "/session/register", `{"username":"ren","email":"ren@example.com","password":"pw"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if body["status"] != string(domain.IdentityAuthenticated) {
		t.Fatalf("expected authenticated, got %v", body["status"])
	}

	rr, body = doJSON(t, sf.router, http.MethodPost, "/session/register", `{"username":"ren","email":"ren@example.com","password":"pw"}`)
	if rr.Code != http.StatusBadRequest || body["message"] != "Username already exists" {
		t.Fatalf("expected duplicate rejection, got %d %v", rr.Code, body)
	}

	rr, body = doJSON(t, sf.router, http.MethodPost, "/session/logout", "")
	if rr.Code != http.StatusOK || body["status"] != string(domain.IdentityAnonymous) {
		t.Fatalf("unexpected logout result %d %v", rr.Code, body)
	}
}

func TestSessionHandlers_Refresh(t *testing.T) {
	sf := newStorefront(t)

	rr, _ := doJSON(t, sf.router, http.MethodPost, "/session/refresh", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rr.Code)
	}

	if rr, _ := doJSON(t, sf.router, http.MethodPost, "/session/login", `{"username":"kana","password":"pw"}`); rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d", rr.Code)
	}
	rr, body := doJSON(t, sf.router, http.MethodPost, "/session/refresh", "")
	if rr.Code != http.StatusOK || body["status"] != string(domain.IdentityAuthenticated) {
		t.Fatalf("unexpected refresh result %d %v", rr.Code, body)
	}
	if sf.api.Calls("POST /auth/refresh") != 1 {
		t.Fatalf("expected one refresh call")
	}
}
