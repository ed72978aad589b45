// Package oracle adapts the external attestation oracle behind a single
// interface. Live mode talks to the chain oracle over HTTP; mock mode
// synthesizes deterministic verdicts when the oracle is unreachable or
// unconfigured. The mode is selected once at construction and never
// re-evaluated per call.
package oracle

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single oracle round trip. Past it the attempt is
// treated as retryable unavailability rather than hanging the workflow.
const DefaultTimeout = 20 * time.Second

// Adapter is the only suspension point in a workflow operation. Both methods
// return a well-formed result or a coded error; transport exceptions never
// escape to the workflow layer.
type Adapter interface {
	VerifyProperty(ctx context.Context, req VerificationRequest) (*VerificationResult, error)
	VerifyUser(ctx context.Context, req VerificationRequest) (*VerificationResult, error)
}

// Config carries the oracle connection settings. Mode selection depends on
// completeness: all fields present means live, anything missing means mock.
type Config struct {
	Endpoint         string
	APIKey           string
	APISecret        string
	RegistryContract string
	Timeout          time.Duration
}

// Complete reports whether every setting required for live mode is present.
func (c Config) Complete() bool {
	return c.Endpoint != "" && c.APIKey != "" && c.APISecret != "" && c.RegistryContract != ""
}

// Option configures an adapter at construction.
type Option func(*options)

type options struct {
	logger *slog.Logger
	client *http.Client
	now    func() time.Time
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the HTTP client used in live mode (tests point it
// at an httptest server).
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithClock pins the clock; mock attestation hashes derive from it.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewFromConfig selects the adapter implementation exactly once from
// configuration completeness. Callers hold an Adapter and never branch on the
// mode again.
func NewFromConfig(cfg Config, opts ...Option) Adapter {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if !cfg.Complete() {
		if o.logger != nil {
			o.logger.Warn("oracle configuration incomplete, using mock attestor")
		}
		return NewMockAdapter(WithClock(o.now))
	}
	return NewLiveAdapter(cfg, opts...)
}
