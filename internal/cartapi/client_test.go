package cartapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/testutil"
)

type bearerDoer struct {
	client *http.Client
	token  string
}

func (d bearerDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+d.token)
	return d.client.Do(req)
}

func newClient(t *testing.T) (*Client, *testutil.FakeAPI, int) {
	t.Helper()
	api := testutil.NewFakeAPI(t)
	api.AddProduct(testutil.Product{ID: 1, Name: "Maple seal", Price: 20, FinalPrice: 18.5, ImageURL: "/m.png", Stock: 5})
	api.AddProduct(testutil.Product{ID: 2, Name: "Ink pad", Price: 4.5, Stock: 3})
	userID := api.AddUser("kana", "", "pw")
	access, _ := api.IssueTokens(userID)
	client, err := NewClient(api.URL, bearerDoer{client: api.Client(), token: access})
	require.NoError(t, err)
	return client, api, userID
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(" ", bearerDoer{})
	assert.True(t, errors.Is(err, errBaseURLRequired))
	_, err = NewClient("http://x", nil)
	assert.True(t, errors.Is(err, errDoerRequired))
}

func TestListParsesRecords(t *testing.T) {
	client, api, userID := newClient(t)
	api.SeedCart(userID, 1, 2)

	listing, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listing.Items, 1)

	rec := listing.Items[0]
	assert.Equal(t, "1", rec.ProductID)
	assert.NotEmpty(t, rec.ServerItemID)
	assert.Equal(t, 2, rec.Quantity)
	assert.Equal(t, 5, rec.Stock)
	assert.Equal(t, "Maple seal", rec.Name)
	assert.Equal(t, domain.Money(1850), rec.UnitPrice, "final price wins over list price")
	assert.Equal(t, domain.Money(3700), listing.Total)
}

func TestMutationsRoundTrip(t *testing.T) {
	client, api, userID := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.Add(ctx, "1", 2))
	require.NoError(t, client.Add(ctx, "2", 1))
	assert.Equal(t, map[int]int{1: 2, 2: 1}, api.Quantities(userID))

	lines := api.Cart(userID)
	require.NoError(t, client.Update(ctx, strconv.Itoa(lines[0].ItemID), 4))
	require.NoError(t, client.Remove(ctx, strconv.Itoa(lines[1].ItemID)))
	assert.Equal(t, map[int]int{1: 4}, api.Quantities(userID))

	require.NoError(t, client.Clear(ctx))
	assert.Empty(t, api.Quantities(userID))
}

func TestAddInsufficientStockSurfacesServerMessage(t *testing.T) {
	client, _, _ := newClient(t)

	err := client.Add(context.Background(), "2", 9)
	require.Error(t, err)
	assert.Equal(t, domain.KindServer, domain.KindOf(err))
	assert.Equal(t, "Insufficient stock. Only 3 units available", domain.UserMessage(err))

	var typed *domain.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, http.StatusBadRequest, typed.Status)
}

func TestUpdateAndRemoveRequireServerID(t *testing.T) {
	client, api, _ := newClient(t)
	ctx := context.Background()

	assert.True(t, errors.Is(client.Update(ctx, "", 1), errItemIDRequired))
	assert.True(t, errors.Is(client.Remove(ctx, " "), errItemIDRequired))
	assert.Zero(t, api.Calls("PUT /cart/update"))
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	client, api, _ := newClient(t)
	api.FailNext("GET /cart", 0, "")

	_, err := client.List(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNetwork), "got %v", err)
}

func TestGenericServerErrorFallsBack(t *testing.T) {
	client, api, _ := newClient(t)
	api.FailNext("DELETE /cart/clear", http.StatusInternalServerError, "")

	err := client.Clear(context.Background())
	assert.Equal(t, domain.MessageServerFallback, domain.UserMessage(err))
}
