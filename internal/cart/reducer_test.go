package cart

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/hanko-storefront/internal/domain"
)

func item(id string, price domain.Money, qty, stock int) domain.CartItem {
	return domain.CartItem{ProductID: id, Name: "Product " + id, UnitPrice: price, Quantity: qty, StockCeiling: stock}
}

func reduceAll(actions ...Action) State {
	state := Empty()
	for _, action := range actions {
		state = Reduce(state, action)
	}
	return state
}

func TestAddItemInsertsAndCapsAtStock(t *testing.T) {
	state := reduceAll(AddItem{Item: item("p1", 1250, 7, 5)})

	got, ok := state.Item("p1")
	require.True(t, ok)
	assert.Equal(t, 5, got.Quantity)
	assert.Equal(t, domain.Money(6250), state.Total)
}

func TestAddItemAccumulatesExistingLine(t *testing.T) {
	state := reduceAll(
		AddItem{Item: item("p1", 100, 2, 5)},
		AddItem{Item: item("p1", 100, 2, 5)},
	)
	got, _ := state.Item("p1")
	assert.Equal(t, 4, got.Quantity)

	state = Reduce(state, AddItem{Item: item("p1", 100, 10, 5)})
	got, _ = state.Item("p1")
	assert.Equal(t, 5, got.Quantity)
	assert.Equal(t, domain.Money(500), state.Total)
}

func TestAddItemZeroQuantityIsNoop(t *testing.T) {
	before := reduceAll(AddItem{Item: item("p1", 100, 1, 5)})
	after := Reduce(before, AddItem{Item: item("p2", 100, 0, 5)})

	if diff := cmp.Diff(before.Snapshot(), after.Snapshot()); diff != "" {
		t.Fatalf("state changed (-before +after):\n%s", diff)
	}
}

func TestAddItemWithoutStockIsDropped(t *testing.T) {
	state := reduceAll(AddItem{Item: item("p1", 100, 1, 0)})
	assert.Equal(t, 0, state.Len())
}

func TestUpdateQuantityClamps(t *testing.T) {
	base := reduceAll(AddItem{Item: item("p1", 300, 2, 4)})

	cases := []struct {
		name string
		qty  int
		want int
	}{
		{"above stock", 40, 4},
		{"zero", 0, 1},
		{"negative", -2, 1},
		{"in range", 3, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := Reduce(base, UpdateQuantity{ProductID: "p1", Quantity: tc.qty})
			got, ok := state.Item("p1")
			require.True(t, ok)
			assert.Equal(t, tc.want, got.Quantity)
			assert.Equal(t, domain.Money(300*tc.want), state.Total)
		})
	}
}

func TestUpdateQuantityUnknownProduct(t *testing.T) {
	base := reduceAll(AddItem{Item: item("p1", 300, 2, 4)})
	state := Reduce(base, UpdateQuantity{ProductID: "missing", Quantity: 3})
	assert.Equal(t, base.Snapshot(), state.Snapshot())
}

func TestRemoveItem(t *testing.T) {
	state := reduceAll(
		AddItem{Item: item("p1", 100, 1, 5)},
		AddItem{Item: item("p2", 250, 2, 5)},
		RemoveItem{ProductID: "p1"},
		RemoveItem{ProductID: "absent"},
	)
	assert.Equal(t, 1, state.Len())
	assert.Equal(t, domain.Money(500), state.Total)
}

func TestClearCartTwiceIsIdentical(t *testing.T) {
	once := reduceAll(AddItem{Item: item("p1", 100, 1, 5)}, ClearCart{})
	twice := Reduce(once, ClearCart{})

	if diff := cmp.Diff(once.Snapshot(), twice.Snapshot()); diff != "" {
		t.Fatalf("second clear changed state:\n%s", diff)
	}
	assert.Equal(t, domain.Money(0), twice.Total)
	assert.Equal(t, 0, twice.Len())
}

func TestSetCartReplacesAndNormalises(t *testing.T) {
	state := reduceAll(
		AddItem{Item: item("old", 100, 1, 5)},
		SetCart{Items: []domain.CartItem{
			item("a", 200, 3, 2),
			item("b", 150, 0, 9),
			item("c", 99, 2, 0),
			item("d", 10, 1, 4),
		}},
	)

	_, hasOld := state.Item("old")
	assert.False(t, hasOld)
	a, _ := state.Item("a")
	assert.Equal(t, 2, a.Quantity)
	_, hasB := state.Item("b")
	assert.False(t, hasB)
	_, hasC := state.Item("c")
	assert.False(t, hasC)
	assert.Equal(t, domain.Money(410), state.Total)
	require.NoError(t, CheckInvariants(state))
}

func TestSetErrorKeepsItems(t *testing.T) {
	base := reduceAll(AddItem{Item: item("p1", 100, 2, 5)}, SetLoading{})
	require.True(t, base.Loading)

	state := Reduce(base, SetError{Message: "Connection error. Please try again."})
	assert.Equal(t, "Connection error. Please try again.", state.Error)
	assert.False(t, state.Loading)
	assert.Equal(t, base.Items(), state.Items())

	cleared := Reduce(state, AddItem{Item: item("p1", 100, 1, 5)})
	assert.Empty(t, cleared.Error)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	base := reduceAll(AddItem{Item: item("p1", 100, 2, 5)})
	_ = Reduce(base, UpdateQuantity{ProductID: "p1", Quantity: 5})
	_ = Reduce(base, RemoveItem{ProductID: "p1"})

	got, ok := base.Item("p1")
	require.True(t, ok)
	assert.Equal(t, 2, got.Quantity)
}

func TestRandomActionSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d"}
	state := Empty()

	for step := 0; step < 2000; step++ {
		id := ids[rng.Intn(len(ids))]
		var action Action
		switch rng.Intn(6) {
		case 0, 1:
			action = AddItem{Item: item(id, domain.Money(rng.Intn(5000)), rng.Intn(8)-1, rng.Intn(6))}
		case 2:
			action = UpdateQuantity{ProductID: id, Quantity: rng.Intn(20) - 5}
		case 3:
			action = RemoveItem{ProductID: id}
		case 4:
			action = SetCart{Items: []domain.CartItem{item(id, 199, rng.Intn(10)-2, rng.Intn(4))}}
		default:
			action = ClearCart{}
		}
		state = Reduce(state, action)
		require.NoError(t, CheckInvariants(state), "step %d action %#v", step, action)
	}
}
