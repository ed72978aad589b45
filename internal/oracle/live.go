package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"deedgate/internal/fingerprint"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
)

var (
	oracleRoundTripSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deedgate_oracle_roundtrip_seconds",
		Help:    "Latency of live oracle verification calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})
	oracleVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deedgate_oracle_verdicts_total",
		Help: "Verification verdicts by subject kind and verdict",
	}, []string{"subject", "verdict"})
)

// LiveAdapter submits verification requests to the external attestation
// oracle. Structural gates run before any network call; only submissions that
// pass them reach the wire.
type LiveAdapter struct {
	endpoint         string
	apiKey           string
	apiSecret        string
	registryContract string
	timeout          time.Duration
	client           *http.Client
	logger           *slog.Logger
	now              func() time.Time
}

// NewLiveAdapter constructs the live-mode adapter. Prefer NewFromConfig, which
// also handles mode selection.
func NewLiveAdapter(cfg Config, opts ...Option) *LiveAdapter {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := o.client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &LiveAdapter{
		endpoint:         cfg.Endpoint,
		apiKey:           cfg.APIKey,
		apiSecret:        cfg.APISecret,
		registryContract: cfg.RegistryContract,
		timeout:          timeout,
		client:           client,
		logger:           o.logger,
		now:              o.now,
	}
}

func (a *LiveAdapter) VerifyProperty(ctx context.Context, req VerificationRequest) (*VerificationResult, error) {
	req.SubjectKind = SubjectProperty
	return a.verify(ctx, req)
}

func (a *LiveAdapter) VerifyUser(ctx context.Context, req VerificationRequest) (*VerificationResult, error) {
	req.SubjectKind = SubjectUser
	return a.verify(ctx, req)
}

func (a *LiveAdapter) verify(ctx context.Context, req VerificationRequest) (*VerificationResult, error) {
	result := &VerificationResult{
		VerificationID: id.NewVerificationID(),
		VerifiedBy:     VerifiedByChainOracle,
		CompletedAt:    a.now(),
	}

	// Gates 1 and 2 are hard, local, and ordered. Failing either routes the
	// submission to human review without consuming an oracle call.
	checks, gateErrs := runGates(req)
	result.Checks = checks
	if len(gateErrs) > 0 {
		result.Verdict = VerdictNeedsReview
		result.Errors = gateErrs
		recordVerdict(req.SubjectKind, result.Verdict)
		return result, nil
	}

	payload, err := a.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		// Malformed but non-retryable oracle response: definitive failure for
		// this attempt.
		result.Checks.CrossAttested = false
		result.Verdict = VerdictRejected
		result.Errors = []string{"oracle returned a malformed verdict payload"}
		recordVerdict(req.SubjectKind, result.Verdict)
		return result, nil
	}

	if !payload.Verified {
		result.Checks.CrossAttested = false
		result.Verdict = VerdictRejected
		result.Errors = []string{"oracle rejected the submission"}
		recordVerdict(req.SubjectKind, result.Verdict)
		return result, nil
	}

	result.Success = true
	result.Verdict = VerdictVerified
	result.AttestationHash = payload.AttestationHash
	recordVerdict(req.SubjectKind, result.Verdict)
	return result, nil
}

// runGates applies the local verification policy, layered in order. Stage 3
// (cross-attestation) is only set once stages 1 and 2 both pass; the network
// verdict may still clear it.
func runGates(req VerificationRequest) (Checks, []string) {
	var errs []string
	checks := Checks{}

	// Stage 1: every document hash must be structurally valid.
	checks.DocumentAuthenticity = len(req.DocumentHashes) > 0
	for _, h := range req.DocumentHashes {
		if !fingerprint.WellFormedHash(h) {
			checks.DocumentAuthenticity = false
			break
		}
	}
	if !checks.DocumentAuthenticity {
		errs = append(errs, "document authenticity check failed: missing or malformed content hash")
	}

	// Stage 2: structured fields must be complete.
	checks.RecordMatch = req.Fields.Name != "" && req.Fields.Location != ""
	if req.SubjectKind == SubjectProperty {
		checks.RecordMatch = checks.RecordMatch &&
			req.Fields.DeclaredValue != nil && req.Fields.DeclaredValue.Sign() > 0
	}
	if !checks.RecordMatch {
		errs = append(errs, "record match check failed: incomplete structured fields")
	}

	// Stage 3: cross-attestation, pending the external corroboration signal.
	checks.CrossAttested = checks.DocumentAuthenticity && checks.RecordMatch
	return checks, errs
}

// oracleRequest is the wire envelope the oracle consumes.
type oracleRequest struct {
	SenderPrincipal string `json:"senderPrincipal"`
	KernelID        string `json:"kernelId"`
	EncodedParams   string `json:"encodedParams"`
}

// oracleResponse is the wire envelope the oracle returns.
type oracleResponse struct {
	Auth           string          `json:"auth"`
	VerdictPayload string          `json:"verdictPayload"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// verdictPayload is the decoded verdict tuple.
type verdictPayload struct {
	Address         string `json:"address"`
	Verified        bool   `json:"verified"`
	Timestamp       uint64 `json:"timestamp"`
	AttestationHash string `json:"attestationHash"`
}

// dispatch performs the oracle round trip. It returns a decoded payload, nil
// for malformed-but-definitive responses, or a retryable coded error for
// transport faults, timeouts, and oracle-side outages.
func (a *LiveAdapter) dispatch(ctx context.Context, req VerificationRequest) (*verdictPayload, error) {
	start := time.Now()
	defer func() {
		oracleRoundTripSeconds.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode verification request")
	}
	body, err := json.Marshal(oracleRequest{
		SenderPrincipal: req.OwnerPrincipal.String(),
		KernelID:        a.registryContract,
		EncodedParams:   base64.StdEncoding.EncodeToString(params),
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode oracle envelope")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build oracle request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(a.apiKey, a.apiSecret)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if a.logger != nil {
			a.logger.WarnContext(ctx, "oracle call failed", "error", err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "oracle call timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "oracle is unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, dErrors.Newf(dErrors.CodeOracleUnavailable, "oracle returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// A definitive non-5xx failure: the oracle refused the request.
		return nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "failed to read oracle response")
	}

	var envelope oracleResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(envelope.VerdictPayload)
	if err != nil {
		return nil, nil
	}
	var payload verdictPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, nil
	}
	if payload.Verified && payload.AttestationHash == "" {
		payload.AttestationHash = syntheticAttestationHash(req.SubjectID, payload.Timestamp)
	}
	return &payload, nil
}

func syntheticAttestationHash(subjectID string, timestamp uint64) string {
	return fingerprint.HashBytes(fmt.Appendf(nil, "%s:%d", subjectID, timestamp))
}

func recordVerdict(kind SubjectKind, verdict Verdict) {
	oracleVerdictsTotal.WithLabelValues(string(kind), string(verdict)).Inc()
}
