// Package di assembles the storefront client from configuration.
package di

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/hanko-storefront/internal/auth"
	"finitefield.org/hanko-storefront/internal/cartapi"
	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/gateway"
	"finitefield.org/hanko-storefront/internal/merge"
	"finitefield.org/hanko-storefront/internal/platform/config"
	"finitefield.org/hanko-storefront/internal/platform/observability"
	"finitefield.org/hanko-storefront/internal/session"
	"finitefield.org/hanko-storefront/internal/storage"
)

// Container holds the wired runtime graph.
type Container struct {
	Config  config.Config
	Store   storage.Store
	Auth    *auth.Manager
	Gateway *gateway.Gateway
	Cart    *session.Engine
	Logger  *zap.Logger

	ownsStore bool
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	httpClient *http.Client
	store      storage.Store
	logger     *zap.Logger
}

// WithHTTPClient overrides the HTTP client used for every API call.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithStore supplies device storage instead of opening the configured driver. The caller
// keeps ownership and must close it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLogger sets the root logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewContainer wires storage, the auth session manager, the gateway, the cart client, the
// merge reconciler and the cart engine. Call Start to restore the persisted session.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := observability.OrNop(o.logger)
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.API.Timeout}
	}

	c := &Container{Config: cfg, Logger: logger, Store: o.store}
	if c.Store == nil {
		store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, storage.WithLogger(logger.Named("storage")))
		if err != nil {
			return nil, err
		}
		c.Store = store
		c.ownsStore = true
	}

	authClient, err := auth.NewClient(cfg.API.BaseURL, auth.WithHTTPClient(httpClient))
	if err != nil {
		return nil, c.closeOnError(err)
	}
	c.Auth, err = auth.NewManager(auth.Deps{
		API:    authClient,
		Tokens: storage.NewTokens(c.Store),
		Logger: logger.Named("auth"),
	})
	if err != nil {
		return nil, c.closeOnError(err)
	}

	c.Gateway, err = gateway.New(c.Auth,
		gateway.WithHTTPClient(httpClient),
		gateway.WithLogger(logger.Named("gateway")),
		gateway.WithSharedRefresh(cfg.API.SharedRefresh),
	)
	if err != nil {
		return nil, c.closeOnError(err)
	}

	remote, err := cartapi.NewClient(cfg.API.BaseURL, c.Gateway)
	if err != nil {
		return nil, c.closeOnError(err)
	}
	local := storage.NewLocalCart(c.Store)
	reconciler, err := merge.New(merge.Deps{
		Remote:              remote,
		Local:               local,
		Strategy:            merge.Strategy(cfg.Cart.MergeStrategy),
		DefaultStockCeiling: cfg.Cart.DefaultStockCeiling,
		Logger:              logger.Named("merge"),
	})
	if err != nil {
		return nil, c.closeOnError(err)
	}

	c.Cart, err = session.New(session.Deps{
		Remote: remote,
		Local:  local,
		Marker: storage.NewIdentityMarker(c.Store),
		Merger: reconciler,
		Logger: logger.Named("session"),
	})
	if err != nil {
		return nil, c.closeOnError(err)
	}
	return c, nil
}

// Start restores the persisted session, loads the matching cart and subscribes the cart
// engine to later identity transitions.
func (c *Container) Start(ctx context.Context) domain.Identity {
	identity := c.Auth.Restore(ctx)
	c.Cart.Start(ctx, identity)
	c.Auth.Subscribe(c.Cart.HandleIdentity)
	return identity
}

// Close releases device storage when the container opened it.
func (c *Container) Close() error {
	if c == nil || c.Store == nil || !c.ownsStore {
		return nil
	}
	return c.Store.Close()
}

func (c *Container) closeOnError(err error) error {
	if closeErr := c.Close(); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}
