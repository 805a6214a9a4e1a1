// Package session is the cart facade used by the rest of the application. It applies every
// mutation to the canonical cart, performs the matching side effect (device storage while
// anonymous, the server cart while authenticated) and reacts to identity transitions.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/hanko-storefront/internal/cart"
	"finitefield.org/hanko-storefront/internal/cartapi"
	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/merge"
	"finitefield.org/hanko-storefront/internal/platform/observability"
)

var (
	errRemoteRequired = errors.New("session: remote cart is required")
	errLocalRequired  = errors.New("session: local cart is required")
	errMarkerRequired = errors.New("session: identity marker is required")
	errMergerRequired = errors.New("session: merger is required")

	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// RemoteCart is the server cart.
type RemoteCart interface {
	List(ctx context.Context) (cartapi.Listing, error)
	Add(ctx context.Context, productID string, quantity int) error
	Update(ctx context.Context, serverItemID string, quantity int) error
	Remove(ctx context.Context, serverItemID string) error
	Clear(ctx context.Context) error
}

// LocalCart is the persisted guest cart.
type LocalCart interface {
	Load(ctx context.Context) ([]domain.CartItem, error)
	Save(ctx context.Context, items []domain.CartItem) error
	Discard(ctx context.Context) error
}

// Marker persists the last user id a cart was reconciled for.
type Marker interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, userID string) error
}

// Merger runs the guest→authenticated merge.
type Merger interface {
	Run(ctx context.Context) (merge.Result, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Remote RemoteCart
	Local  LocalCart
	Marker Marker
	Merger Merger
	Logger *zap.Logger
}

// Engine is safe for concurrent use. Server side effects run one at a time in call order;
// reads never wait for the network.
type Engine struct {
	remote RemoteCart
	local  LocalCart
	marker Marker
	merger Merger
	logger *zap.Logger

	// ops serialises server side effects. The anonymous transition must not take it: a
	// failed refresh logs out from inside an operation.
	ops sync.Mutex

	mu         sync.Mutex
	state      cart.State
	userID     string
	generation uint64
}

// New constructs an Engine with an empty anonymous cart.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Remote == nil:
		return nil, errRemoteRequired
	case deps.Local == nil:
		return nil, errLocalRequired
	case deps.Marker == nil:
		return nil, errMarkerRequired
	case deps.Merger == nil:
		return nil, errMergerRequired
	}
	return &Engine{
		remote: deps.Remote,
		local:  deps.Local,
		marker: deps.Marker,
		merger: deps.Merger,
		logger: observability.OrNop(deps.Logger),
		state:  cart.Empty(),
	}, nil
}

// Snapshot returns the current cart.
func (e *Engine) Snapshot() cart.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// UserID returns the user the cart currently belongs to, or "" while anonymous.
func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// Start loads the cart for the restored identity.
func (e *Engine) Start(ctx context.Context, identity domain.Identity) {
	e.HandleIdentity(ctx, domain.IdentityTransition{
		From: domain.Identity{Status: domain.IdentityAnonymous},
		To:   identity,
	})
}

// HandleIdentity reacts to a transition. Entering authenticated runs the merge once per
// user, guarded by the persisted marker; returning to an authenticated user only
// re-fetches. Entering anonymous clears the marker and loads the guest cart. Other
// statuses are ignored.
func (e *Engine) HandleIdentity(ctx context.Context, transition domain.IdentityTransition) {
	switch transition.To.Status {
	case domain.IdentityAuthenticated:
		e.enterAuthenticated(ctx, transition.To.UserID())
	case domain.IdentityAnonymous:
		e.enterAnonymous(ctx)
	}
}

func (e *Engine) enterAuthenticated(ctx context.Context, userID string) {
	if userID == "" {
		e.logger.Warn("session: authenticated identity without user id")
		return
	}
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.userID = userID
	e.mu.Unlock()

	e.ops.Lock()
	defer e.ops.Unlock()

	marker, err := e.marker.Load(ctx)
	if err != nil {
		e.logger.Warn("session: unable to read identity marker", zap.Error(err))
		_ = e.refetch(ctx, gen)
		return
	}
	switch marker {
	case "":
		_ = e.mergeLocked(ctx, gen, userID)
	case userID:
		_ = e.refetch(ctx, gen)
	default:
		e.logger.Info("session: identity changed without sign-out, skipping merge")
		if err := e.marker.Save(ctx, userID); err != nil {
			e.logger.Warn("session: unable to write identity marker", zap.Error(err))
		}
		_ = e.refetch(ctx, gen)
	}
}

func (e *Engine) enterAnonymous(ctx context.Context) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.userID = ""
	e.mu.Unlock()

	if err := e.marker.Save(ctx, ""); err != nil {
		e.logger.Warn("session: unable to clear identity marker", zap.Error(err))
	}
	items, err := e.local.Load(ctx)
	if err != nil {
		e.logger.Warn("session: guest cart unreadable, starting empty", zap.Error(err))
		items = nil
	}

	e.dispatch(gen, cart.SetCart{Items: items})
}

// RetryMerge re-runs a merge that failed. When the merge already completed for the current
// user it re-fetches instead.
func (e *Engine) RetryMerge(ctx context.Context) error {
	gen, userID := e.current()
	if userID == "" {
		return ErrNotAuthenticated
	}
	e.ops.Lock()
	defer e.ops.Unlock()

	marker, err := e.marker.Load(ctx)
	if err != nil {
		return err
	}
	if marker == userID {
		return e.refetch(ctx, gen)
	}
	return e.mergeLocked(ctx, gen, userID)
}

func (e *Engine) mergeLocked(ctx context.Context, gen uint64, userID string) error {
	e.dispatch(gen, cart.SetLoading{})
	result, err := e.merger.Run(ctx)
	if err != nil {
		e.fail(gen, err)
		return err
	}
	if err := e.marker.Save(ctx, userID); err != nil {
		e.logger.Warn("session: unable to write identity marker", zap.Error(err))
	}
	e.dispatch(gen, cart.SetCart{Items: domain.CartItemsFromRemote(result.Listing.Items)})
	return nil
}

// Refresh re-reads the cart from its source of truth.
func (e *Engine) Refresh(ctx context.Context) error {
	gen, userID := e.current()
	if userID == "" {
		items, err := e.local.Load(ctx)
		if err != nil {
			e.logger.Warn("session: guest cart unreadable", zap.Error(err))
		}
		e.dispatch(gen, cart.SetCart{Items: items})
		return nil
	}
	e.ops.Lock()
	defer e.ops.Unlock()
	return e.refetch(ctx, gen)
}

// AddItem adds item.Quantity of a product, capped at its stock. While authenticated only
// the quantity actually added to the canonical cart is sent to the server.
func (e *Engine) AddItem(ctx context.Context, item domain.CartItem) error {
	item.ProductID = strings.TrimSpace(item.ProductID)
	e.ops.Lock()
	defer e.ops.Unlock()

	e.mu.Lock()
	before, had := e.state.Item(item.ProductID)
	e.state = cart.Reduce(e.state, cart.AddItem{Item: item})
	after, has := e.state.Item(item.ProductID)
	gen, userID := e.generation, e.userID
	e.mu.Unlock()

	if userID == "" {
		if had == has && before == after {
			return nil
		}
		return e.persistGuest(ctx)
	}
	delta := after.Quantity - before.Quantity
	if delta <= 0 {
		return nil
	}
	return e.settle(ctx, gen, e.remote.Add(ctx, item.ProductID, delta))
}

// RemoveItem deletes a product from the cart. Removing an absent product is a no-op.
func (e *Engine) RemoveItem(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	e.ops.Lock()
	defer e.ops.Unlock()

	e.mu.Lock()
	existing, ok := e.state.Item(productID)
	e.state = cart.Reduce(e.state, cart.RemoveItem{ProductID: productID})
	gen, userID := e.generation, e.userID
	e.mu.Unlock()

	if !ok {
		return nil
	}
	if userID == "" {
		return e.persistGuest(ctx)
	}
	serverID, err := e.serverItemID(ctx, existing)
	if err != nil || serverID == "" {
		return e.settle(ctx, gen, err)
	}
	return e.settle(ctx, gen, e.remote.Remove(ctx, serverID))
}

// UpdateQuantity sets a product's quantity, clamped to [1, stock].
func (e *Engine) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)
	e.ops.Lock()
	defer e.ops.Unlock()

	e.mu.Lock()
	before, _ := e.state.Item(productID)
	e.state = cart.Reduce(e.state, cart.UpdateQuantity{ProductID: productID, Quantity: quantity})
	updated, ok := e.state.Item(productID)
	gen, userID := e.generation, e.userID
	e.mu.Unlock()

	if !ok {
		return nil
	}
	if userID == "" {
		if before == updated {
			return nil
		}
		return e.persistGuest(ctx)
	}
	serverID, err := e.serverItemID(ctx, updated)
	if err != nil || serverID == "" {
		return e.settle(ctx, gen, err)
	}
	return e.settle(ctx, gen, e.remote.Update(ctx, serverID, updated.Quantity))
}

// ClearCart empties the cart.
func (e *Engine) ClearCart(ctx context.Context) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	e.mu.Lock()
	e.state = cart.Reduce(e.state, cart.ClearCart{})
	gen, userID := e.generation, e.userID
	e.mu.Unlock()

	if userID == "" {
		return e.local.Discard(ctx)
	}
	return e.settle(ctx, gen, e.remote.Clear(ctx))
}

func (e *Engine) persistGuest(ctx context.Context) error {
	e.mu.Lock()
	items := e.state.Items()
	e.mu.Unlock()
	if err := e.local.Save(ctx, items); err != nil {
		e.logger.Warn("session: unable to persist guest cart", zap.Error(err))
		return err
	}
	return nil
}

// serverItemID translates a cart line to the server's line id, listing the server cart
// when the line has not been fetched yet.
func (e *Engine) serverItemID(ctx context.Context, item domain.CartItem) (string, error) {
	if item.ServerItemID != "" {
		return item.ServerItemID, nil
	}
	listing, err := e.remote.List(ctx)
	if err != nil {
		return "", err
	}
	for _, rec := range listing.Items {
		if rec.ProductID == item.ProductID {
			return rec.ServerItemID, nil
		}
	}
	return "", nil
}

// settle re-lists the server cart after a mutation and records opErr as the cart error.
// Results for a superseded identity are dropped.
func (e *Engine) settle(ctx context.Context, gen uint64, opErr error) error {
	if errors.Is(opErr, domain.ErrSessionExpired) {
		e.mu.Lock()
		e.state = cart.Reduce(e.state, cart.SetError{Message: domain.UserMessage(opErr)})
		e.mu.Unlock()
		return opErr
	}

	listing, listErr := e.remote.List(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return opErr
	}
	if listErr == nil {
		e.state = cart.Reduce(e.state, cart.SetCart{Items: domain.CartItemsFromRemote(listing.Items)})
	}
	switch {
	case opErr != nil:
		e.state = cart.Reduce(e.state, cart.SetError{Message: domain.UserMessage(opErr)})
		return opErr
	case listErr != nil:
		e.state = cart.Reduce(e.state, cart.SetError{Message: domain.UserMessage(listErr)})
		return listErr
	}
	return nil
}

func (e *Engine) refetch(ctx context.Context, gen uint64) error {
	e.dispatch(gen, cart.SetLoading{})
	return e.settle(ctx, gen, nil)
}

func (e *Engine) fail(gen uint64, err error) {
	if errors.Is(err, domain.ErrSessionExpired) {
		e.mu.Lock()
		e.state = cart.Reduce(e.state, cart.SetError{Message: domain.UserMessage(err)})
		e.mu.Unlock()
		return
	}
	e.dispatch(gen, cart.SetError{Message: domain.UserMessage(err)})
}

// dispatch applies action unless the identity has moved on since gen was read.
func (e *Engine) dispatch(gen uint64, action cart.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	e.state = cart.Reduce(e.state, action)
}

func (e *Engine) current() (uint64, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation, e.userID
}
