// Package handler is the thin HTTP layer over the onboarding services. It
// decodes requests, delegates to the services, and translates domain errors
// into the shared JSON error envelope. No business logic lives here.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"deedgate/internal/entitlement"
	"deedgate/internal/onboarding/models"
	"deedgate/internal/onboarding/service"
	"deedgate/internal/platform/middleware"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/platform/httputil"
	"deedgate/pkg/requestcontext"
)

// Handler handles the property and user onboarding endpoints.
type Handler struct {
	logger       *slog.Logger
	properties   *service.PropertyService
	users        *service.UserService
	jwtValidator middleware.JWTValidator
}

// New creates the onboarding Handler.
func New(
	properties *service.PropertyService,
	users *service.UserService,
	logger *slog.Logger,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		properties:   properties,
		users:        users,
		jwtValidator: jwtValidator,
	}
}

// Register registers the onboarding routes with the chi router. Reviewer
// endpoints sit behind JWT auth; everything else identifies callers by the
// wallet principal in the payload or path.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Device)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middleware.ContentTypeJSON)

	router.Post("/properties", h.handleCreateProperty)
	router.Post("/properties/{propertyID}/verify", h.handleVerifyProperty)
	router.Post("/properties/{propertyID}/tokenize", h.handleTokenizeProperty)
	router.Get("/properties/{propertyID}", h.handleGetProperty)
	router.Get("/properties", h.handleListProperties)

	router.Post("/kyc", h.handleSubmitKYC)
	router.Get("/users/{principal}", h.handleGetUser)
	router.Get("/users/{principal}/verified", h.handleIsVerified)
	router.Get("/users/{principal}/can-invest", h.handleCanInvest)
	router.Get("/users/{principal}/can-list", h.handleCanList)

	router.Group(func(rg chi.Router) {
		rg.Use(middleware.RequireReviewer(h.jwtValidator, h.logger))
		rg.Get("/review/properties", h.handlePendingProperties)
		rg.Post("/review/properties/{propertyID}/notes", h.handleAppendNote)
	})

	r.Mount("/", router)
}

// upload is the wire form of a document upload.
type upload struct {
	Name          string `json:"name"`
	MimeType      string `json:"mime_type"`
	ContentBase64 string `json:"content_base64"`
}

func (u *upload) decode() (*service.Upload, error) {
	if u == nil {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(u.ContentBase64)
	if err != nil {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "upload %q is not valid base64", u.Name)
	}
	return &service.Upload{Name: u.Name, MimeType: u.MimeType, Bytes: raw}, nil
}

func decodeUploads(in []upload) ([]service.Upload, error) {
	out := make([]service.Upload, 0, len(in))
	for i := range in {
		decoded, err := in[i].decode()
		if err != nil {
			return nil, err
		}
		out = append(out, *decoded)
	}
	return out, nil
}

type createPropertyRequest struct {
	Owner          string                `json:"owner"`
	Fields         models.PropertyFields `json:"fields"`
	Deed           *upload               `json:"deed"`
	Images         []upload              `json:"images"`
	SupportingDocs []upload              `json:"supporting_docs"`
}

func (h *Handler) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	owner, err := id.ParsePrincipal(req.Owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	submission := service.PropertySubmission{Fields: req.Fields}
	if submission.Deed, err = req.Deed.decode(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if submission.Images, err = decodeUploads(req.Images); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if submission.SupportingDocs, err = decodeUploads(req.SupportingDocs); err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.properties.CreateOnboarding(ctx, owner, submission)
	if err != nil {
		h.logError(ctx, "create property onboarding failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleVerifyProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "propertyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.properties.SubmitForVerification(ctx, propertyID)
	if err != nil {
		h.logError(ctx, "property verification failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTokenizeProperty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "propertyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.properties.Tokenize(ctx, propertyID)
	if err != nil {
		h.logError(ctx, "property tokenization failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "propertyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.properties.GetOnboarding(r.Context(), propertyID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleListProperties(w http.ResponseWriter, r *http.Request) {
	owner, err := id.ParsePrincipal(r.URL.Query().Get("owner"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.properties.GetByOwner(r.Context(), owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handlePendingProperties(w http.ResponseWriter, r *http.Request) {
	records, err := h.properties.ListPending(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}

type appendNoteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleAppendNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	propertyID, err := id.ParsePropertyID(chi.URLParam(r, "propertyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// RequireReviewer has already placed the token's principal in context.
	author := requestcontext.Principal(ctx)
	if author.IsZero() {
		h.logger.ErrorContext(ctx, "reviewer principal missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req appendNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.properties.AppendAdminNote(ctx, propertyID, author, req.Note)
	if err != nil {
		h.logError(ctx, "append admin note failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

type submitKYCRequest struct {
	Principal     string              `json:"principal"`
	PersonalInfo  models.PersonalInfo `json:"personal_info"`
	RequestedTier entitlement.Tier    `json:"requested_tier"`
	Identity      *upload             `json:"identity"`
	AddressProof  *upload             `json:"address_proof"`
}

func (h *Handler) handleSubmitKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitKYCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	principal, err := id.ParsePrincipal(req.Principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	submission := service.KYCSubmission{
		PersonalInfo:  req.PersonalInfo,
		RequestedTier: req.RequestedTier,
	}
	if submission.Identity, err = req.Identity.decode(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if submission.AddressProof, err = req.AddressProof.decode(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.users.SubmitKYC(ctx, principal, submission)
	if err != nil {
		h.logError(ctx, "kyc submission failed", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.users.GetOnboarding(r.Context(), principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleIsVerified(w http.ResponseWriter, r *http.Request) {
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	verified, err := h.users.IsVerified(r.Context(), principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func (h *Handler) handleCanInvest(w http.ResponseWriter, r *http.Request) {
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	amount, ok := new(big.Int).SetString(r.URL.Query().Get("amount"), 10)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "amount must be a base-10 integer"))
		return
	}

	decision, err := h.users.CanInvest(r.Context(), principal, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleCanList(w http.ResponseWriter, r *http.Request) {
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision, err := h.users.CanListProperty(r.Context(), principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, decision)
}

// logError keeps caller-induced failures at warn and everything else at error.
func (h *Handler) logError(ctx context.Context, msg string, err error) {
	attrs := []any{
		"error", err.Error(),
		"request_id", middleware.GetRequestID(ctx),
	}
	switch dErrors.ToHTTPStatus(dErrors.CodeOf(err)) / 100 {
	case 4:
		h.logger.WarnContext(ctx, msg, attrs...)
	default:
		h.logger.ErrorContext(ctx, msg, attrs...)
	}
}
