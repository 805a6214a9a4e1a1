package merge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/hanko-storefront/internal/cartapi"
	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/observability"
)

// Strategy selects how the merged plan is written to the server.
type Strategy string

const (
	// StrategyDiff updates changed lines and adds new ones. Each guest line is dropped from
	// device storage once its server call succeeds, so a retried merge never double-adds.
	StrategyDiff Strategy = "diff"
	// StrategyReplay clears the server cart and re-adds every merged line.
	StrategyReplay Strategy = "replay"
)

var (
	errRemoteRequired  = errors.New("merge: remote cart is required")
	errLocalRequired   = errors.New("merge: local cart is required")
	errUnknownStrategy = errors.New("merge: unknown strategy")
)

// RemoteCart is the server cart as seen by the reconciler.
type RemoteCart interface {
	List(ctx context.Context) (cartapi.Listing, error)
	Add(ctx context.Context, productID string, quantity int) error
	Update(ctx context.Context, serverItemID string, quantity int) error
	Clear(ctx context.Context) error
}

// LocalCart is the persisted guest cart.
type LocalCart interface {
	Load(ctx context.Context) ([]domain.CartItem, error)
	Remove(ctx context.Context, productID string) ([]domain.CartItem, error)
	Discard(ctx context.Context) error
}

// Deps bundles the reconciler's collaborators.
type Deps struct {
	Remote              RemoteCart
	Local               LocalCart
	Strategy            Strategy
	DefaultStockCeiling int
	Logger              *zap.Logger
}

// Reconciler runs the guest→authenticated merge. It holds no per-run state; callers decide
// when a run is due.
type Reconciler struct {
	remote   RemoteCart
	local    LocalCart
	strategy Strategy
	ceiling  int
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Result describes a completed merge.
type Result struct {
	RunID   string
	Plan    Plan
	Listing cartapi.Listing
}

// ParseStrategy maps a configuration value to a Strategy. Empty selects diff.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case "", StrategyDiff:
		return StrategyDiff, nil
	case StrategyReplay:
		return StrategyReplay, nil
	}
	return "", fmt.Errorf("%w %q", errUnknownStrategy, value)
}

// New constructs a Reconciler.
func New(deps Deps) (*Reconciler, error) {
	if deps.Remote == nil {
		return nil, errRemoteRequired
	}
	if deps.Local == nil {
		return nil, errLocalRequired
	}
	strategy, err := ParseStrategy(string(deps.Strategy))
	if err != nil {
		return nil, err
	}
	ceiling := deps.DefaultStockCeiling
	if ceiling <= 0 {
		ceiling = DefaultStockCeiling
	}
	return &Reconciler{
		remote:   deps.Remote,
		local:    deps.Local,
		strategy: strategy,
		ceiling:  ceiling,
		logger:   observability.OrNop(deps.Logger),
		tracer:   observability.Tracer(),
	}, nil
}

// Strategy reports the configured strategy.
func (r *Reconciler) Strategy() Strategy { return r.strategy }

// Run reads the guest cart, merges it into the server cart, discards the guest cart and
// returns the re-fetched server cart. Any failure aborts before the guest cart is
// discarded; lines already written to the server are no longer in it.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	runID := ulid.MustNew(ulid.Now(), rand.Reader).String()
	ctx, span := r.tracer.Start(ctx, "merge.reconcile", trace.WithAttributes(
		attribute.String("merge.strategy", string(r.strategy)),
		attribute.String("merge.run_id", runID),
	))
	defer span.End()
	logger := r.logger.With(zap.String("mergeRun", runID), zap.String("strategy", string(r.strategy)))

	result, err := r.run(ctx, runID, logger, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge aborted")
		logger.Error("merge: aborted", zap.Error(err))
		return result, err
	}
	logger.Info("merge: finished",
		zap.Int("localLines", result.Plan.LocalCount()),
		zap.Int("serverLines", len(result.Listing.Items)),
	)
	return result, nil
}

func (r *Reconciler) run(ctx context.Context, runID string, logger *zap.Logger, span trace.Span) (Result, error) {
	result := Result{RunID: runID}

	local, err := r.local.Load(ctx)
	if err != nil {
		if local == nil {
			return result, fmt.Errorf("merge: read guest cart: %w", err)
		}
		logger.Warn("merge: guest cart unreadable, treating as empty", zap.Error(err))
	}

	listing, err := r.remote.List(ctx)
	if err != nil {
		return result, err
	}

	result.Plan = BuildPlan(local, listing.Items, r.ceiling)
	span.SetAttributes(
		attribute.Int("merge.local_lines", result.Plan.LocalCount()),
		attribute.Int("merge.changes", result.Plan.Changes()),
	)
	logger.Info("merge: planned",
		zap.Int("localLines", result.Plan.LocalCount()),
		zap.Int("changes", result.Plan.Changes()),
	)

	if result.Plan.LocalCount() == 0 {
		if err := r.local.Discard(ctx); err != nil {
			return result, fmt.Errorf("merge: discard guest cart: %w", err)
		}
		result.Listing = listing
		return result, nil
	}

	switch r.strategy {
	case StrategyReplay:
		err = r.replay(ctx, result.Plan)
	default:
		err = r.diff(ctx, result.Plan)
	}
	if err != nil {
		return result, err
	}

	if err := r.local.Discard(ctx); err != nil {
		return result, fmt.Errorf("merge: discard guest cart: %w", err)
	}
	result.Listing, err = r.remote.List(ctx)
	return result, err
}

func (r *Reconciler) diff(ctx context.Context, plan Plan) error {
	for _, entry := range plan.Entries {
		switch entry.Action {
		case ActionUpdate:
			if err := r.remote.Update(ctx, entry.ServerItemID, entry.Quantity); err != nil {
				return err
			}
		case ActionAdd:
			if entry.Quantity > 0 {
				if err := r.remote.Add(ctx, entry.ProductID, entry.Quantity); err != nil {
					return err
				}
			}
		}
		if err := r.dropGuestLine(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) replay(ctx context.Context, plan Plan) error {
	if err := r.remote.Clear(ctx); err != nil {
		return err
	}
	for _, entry := range plan.Entries {
		if entry.Quantity > 0 {
			if err := r.remote.Add(ctx, entry.ProductID, entry.Quantity); err != nil {
				return err
			}
		}
		if err := r.dropGuestLine(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// dropGuestLine removes a local line once the server holds its merged quantity, so a
// re-run after a later failure does not count it twice.
func (r *Reconciler) dropGuestLine(ctx context.Context, entry Entry) error {
	if !entry.FromLocal {
		return nil
	}
	if _, err := r.local.Remove(ctx, entry.ProductID); err != nil {
		return fmt.Errorf("merge: drop merged guest line %s: %w", entry.ProductID, err)
	}
	return nil
}
