// Package gateway wraps authenticated HTTP calls: it attaches the bearer token, and on a 401
// drives at most one token refresh followed by at most one retry.
package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/platform/observability"
)

const (
	requestIDHeader = "X-Request-ID"
	defaultTimeout  = 8 * time.Second
	// tokens this close to expiry are refreshed before sending
	expiryLeeway = 5 * time.Second
)

var (
	errCredentialsRequired = errors.New("gateway: credentials are required")
	errRefreshRejected     = errors.New("gateway: refresh rejected")
)

// Credentials is the slice of the session manager the gateway needs.
type Credentials interface {
	// AccessToken returns the current access token, or "" when signed out.
	AccessToken() string
	// RefreshToken exchanges the refresh token for a new access token and reports success.
	// On failure the implementation ends the session.
	RefreshToken(ctx context.Context) bool
	// Logout clears credentials unconditionally.
	Logout()
}

// Doer sends HTTP requests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Gateway is safe for concurrent use.
type Gateway struct {
	creds  Credentials
	client Doer
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	shared bool

	group singleflight.Group

	refreshes       metric.Int64Counter
	refreshFailures metric.Int64Counter

	entropyMu sync.Mutex
	entropy   io.Reader
}

// Option customises the gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the underlying client.
func WithHTTPClient(client Doer) Option {
	return func(g *Gateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSharedRefresh toggles de-duplication of concurrent refreshes. Enabled by default.
func WithSharedRefresh(enabled bool) Option {
	return func(g *Gateway) {
		g.shared = enabled
	}
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithMeter overrides the meter used for refresh counters.
func WithMeter(meter metric.Meter) Option {
	return func(g *Gateway) {
		if meter != nil {
			g.refreshes = observability.Counter(meter, g.logger, "storefront.gateway.refreshes", "Token refresh attempts")
			g.refreshFailures = observability.Counter(meter, g.logger, "storefront.gateway.refresh_failures", "Token refreshes that failed")
		}
	}
}

// New constructs a gateway over creds.
func New(creds Credentials, opts ...Option) (*Gateway, error) {
	if creds == nil {
		return nil, errCredentialsRequired
	}
	g := &Gateway{
		creds:   creds,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
		tracer:  observability.Tracer(),
		now:     time.Now,
		shared:  true,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.refreshes == nil {
		g.refreshes = observability.Counter(nil, g.logger, "storefront.gateway.refreshes", "Token refresh attempts")
	}
	if g.refreshFailures == nil {
		g.refreshFailures = observability.Counter(nil, g.logger, "storefront.gateway.refresh_failures", "Token refreshes that failed")
	}
	return g, nil
}

// Do sends req with the current bearer token. A 401 on a request that carried a token
// triggers one refresh and one retry. If the refresh fails the session is ended and a
// session-expired error is returned. Transport failures are returned as network errors.
//
// Requests with a body must be replayable: http.NewRequest sets GetBody for the common
// body types.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	ctx, span := g.tracer.Start(req.Context(), "gateway.do", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.Path),
	))
	defer span.End()

	op := req.Method + " " + req.URL.Path
	requestID := req.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = g.newRequestID()
	}
	logger := g.logger.With(zap.String("requestId", requestID), zap.String("op", op))

	refreshed := false
	token := g.creds.AccessToken()
	if token != "" && g.expired(token) {
		logger.Debug("gateway: access token expired, refreshing before send")
		fresh, err := g.refresh(ctx, token, logger)
		if err != nil {
			return nil, g.endSession(span, op, err)
		}
		token, refreshed = fresh, true
	}

	resp, err := g.send(ctx, req, token, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, domain.NetworkError(op, err)
	}
	if resp.StatusCode != http.StatusUnauthorized || token == "" || refreshed {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode), attribute.Bool("retried", false))
		return resp, nil
	}
	drain(resp)

	fresh, err := g.refresh(ctx, token, logger)
	if err != nil {
		return nil, g.endSession(span, op, err)
	}

	resp, err = g.send(ctx, req, fresh, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, domain.NetworkError(op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode), attribute.Bool("retried", true))
	return resp, nil
}

func (g *Gateway) endSession(span trace.Span, op string, err error) error {
	g.creds.Logout()
	span.RecordError(err)
	span.SetStatus(codes.Error, "session expired")
	return domain.SessionExpiredError(op, err)
}

// refresh returns a usable access token after stale was rejected. When stale has already
// been rotated by another caller the current token is returned without refreshing again.
func (g *Gateway) refresh(ctx context.Context, stale string, logger *zap.Logger) (string, error) {
	if current := g.creds.AccessToken(); current != "" && current != stale {
		return current, nil
	}
	if !g.shared {
		return g.doRefresh(ctx, stale, logger)
	}
	// the shared refresh outlives any single caller's cancellation
	shared := context.WithoutCancel(ctx)
	v, err, joined := g.group.Do(stale, func() (any, error) {
		return g.doRefresh(shared, stale, logger)
	})
	if joined {
		logger.Debug("gateway: joined in-flight refresh")
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *Gateway) doRefresh(ctx context.Context, stale string, logger *zap.Logger) (string, error) {
	if current := g.creds.AccessToken(); current != "" && current != stale {
		return current, nil
	}
	if g.refreshes != nil {
		g.refreshes.Add(ctx, 1)
	}
	logger.Info("gateway: refreshing access token")
	if !g.creds.RefreshToken(ctx) {
		if g.refreshFailures != nil {
			g.refreshFailures.Add(ctx, 1)
		}
		logger.Warn("gateway: token refresh failed")
		return "", errRefreshRejected
	}
	fresh := g.creds.AccessToken()
	if fresh == "" {
		return "", errRefreshRejected
	}
	return fresh, nil
}

func (g *Gateway) send(ctx context.Context, req *http.Request, token, requestID string) (*http.Response, error) {
	out := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("gateway: request body for %s is not replayable", req.URL.Path)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	out.Header.Set(requestIDHeader, requestID)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return g.client.Do(out)
}

// expired reports whether the token carries an exp claim that has passed. Tokens that
// cannot be decoded are treated as live and left to the server to judge.
func (g *Gateway) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return false
	}
	expiresAt := time.Unix(int64(exp), 0)
	return !g.now().Before(expiresAt.Add(-expiryLeeway))
}

func (g *Gateway) newRequestID() string {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return strconv.FormatInt(g.now().UnixNano(), 36)
	}
	return id.String()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
