// Package handler exposes the provisioning pipeline over HTTP: start a
// verification flow, resend its challenge, and confirm it into an account.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	service "civica/internal/registration/service"
	rmodels "civica/internal/resident/models"
	vmodels "civica/internal/verification/models"
	dErrors "civica/pkg/domain-errors"
	"civica/pkg/platform/httputil"
	"civica/pkg/requestcontext"
)

// Intake opens a verification flow from a signup submission.
type Intake interface {
	Start(ctx context.Context, in service.StartInput) (*vmodels.Challenge, error)
}

// Resender reissues the challenge under an open flow.
type Resender interface {
	Resend(ctx context.Context, correlationID string) (*vmodels.Challenge, error)
}

// Materializer turns a proven flow into a durable resident account.
type Materializer interface {
	Materialize(ctx context.Context, correlationID, presentedProof string) (*rmodels.ResidentAccount, error)
}

type Handler struct {
	intake       Intake
	resender     Resender
	materializer Materializer
	logger       *slog.Logger
}

func New(intake Intake, resender Resender, materializer Materializer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		intake:       intake,
		resender:     resender,
		materializer: materializer,
		logger:       logger,
	}
}

// Register mounts the verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/verification/start", h.HandleStart)
	r.Post("/v1/verification/resend", h.HandleResend)
	r.Post("/v1/verification/confirm", h.HandleConfirm)
}

// HandleStart handles POST /v1/verification/start.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.Decode[StartRequest](w, r, h.logger)
	if !ok {
		return
	}

	ch, err := h.intake.Start(ctx, req.toInput())
	if err != nil {
		h.logger.ErrorContext(ctx, "verification start failed",
			"request_id", requestcontext.RequestID(ctx),
			"method", req.Method,
			"error_code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verification started",
		"request_id", requestcontext.RequestID(ctx),
		"correlation_id", ch.CorrelationID,
		"method", string(ch.Method),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, fromChallenge(ch))
}

// HandleResend handles POST /v1/verification/resend.
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[ResendRequest](w, r, h.logger)
	if !ok {
		return
	}

	ch, err := h.resender.Resend(ctx, req.CorrelationID)
	if err != nil {
		h.logger.WarnContext(ctx, "resend rejected",
			"request_id", requestcontext.RequestID(ctx),
			"correlation_id", req.CorrelationID,
			"error_code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromChallenge(ch))
}

// HandleConfirm handles POST /v1/verification/confirm.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.Decode[ConfirmRequest](w, r, h.logger)
	if !ok {
		return
	}

	account, err := h.materializer.Materialize(ctx, req.CorrelationID, req.Code)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification confirm failed",
			"request_id", requestcontext.RequestID(ctx),
			"correlation_id", req.CorrelationID,
			"error_code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "account provisioned",
		"request_id", requestcontext.RequestID(ctx),
		"correlation_id", req.CorrelationID,
		"resident_id", account.ResidentID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, fromAccount(account))
}
