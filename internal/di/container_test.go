package di

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/config"
	"finitefield.org/hanko-storefront/internal/storage"
	"finitefield.org/hanko-storefront/internal/testutil"
)

func testConfig(baseURL, dbPath string) config.Config {
	return config.Config{
		API:     config.APIConfig{BaseURL: baseURL, Timeout: 5 * time.Second, SharedRefresh: true},
		Storage: config.StorageConfig{Driver: config.StorageDriverSQLite, Path: dbPath},
		Cart:    config.CartConfig{MergeStrategy: "diff", DefaultStockCeiling: 99, Currency: "USD"},
	}
}

func TestContainerRestoresSessionFromSQLite(t *testing.T) {
	ctx := context.Background()
	api := testutil.NewFakeAPI(t)
	api.AddProduct(testutil.Product{ID: 1, Name: "Maple seal", Price: 12.5, Stock: 5})
	userID := api.AddUser("kana", "kana@example.com", "pw")
	cfg := testConfig(api.URL, filepath.Join(t.TempDir(), "device.db"))

	first, err := NewContainer(ctx, cfg, WithHTTPClient(api.Client()))
	require.NoError(t, err)
	identity := first.Start(ctx)
	assert.Equal(t, domain.IdentityAnonymous, identity.Status)

	require.NoError(t, first.Cart.AddItem(ctx, domain.CartItem{ProductID: "1", Name: "Maple seal", UnitPrice: 1250, Quantity: 2, StockCeiling: 5}))
	result := first.Auth.Login(ctx, "kana", "pw")
	require.True(t, result.Success, result.Error)
	assert.Equal(t, map[int]int{1: 2}, api.Quantities(userID))
	require.NoError(t, first.Close())

	second, err := NewContainer(ctx, cfg, WithHTTPClient(api.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	identity = second.Start(ctx)
	require.Equal(t, domain.IdentityAuthenticated, identity.Status)
	assert.Equal(t, strconv.Itoa(userID), identity.UserID())
	snapshot := second.Cart.Snapshot()
	require.Len(t, snapshot.Items, 1)
	assert.Equal(t, 2, snapshot.Items[0].Quantity)
	assert.Equal(t, map[int]int{1: 2}, api.Quantities(userID), "restart must not merge again")
}

func TestNewContainerRejectsUnknownStrategy(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	cfg := testConfig(api.URL, filepath.Join(t.TempDir(), "device.db"))
	cfg.Cart.MergeStrategy = "magic"

	_, err := NewContainer(context.Background(), cfg, WithHTTPClient(api.Client()))
	require.Error(t, err)
}

func TestNewContainerRequiresBaseURL(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Storage.Driver = config.StorageDriverMemory

	_, err := NewContainer(context.Background(), cfg)
	require.Error(t, err)
}

func TestCloseLeavesSuppliedStoreOpen(t *testing.T) {
	api := testutil.NewFakeAPI(t)
	cfg := testConfig(api.URL, "")
	store := storage.NewMemoryStore()

	c, err := NewContainer(context.Background(), cfg, WithStore(store))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, store.Set(context.Background(), "probe", "ok"))
}
