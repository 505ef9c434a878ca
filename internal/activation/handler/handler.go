package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	activation "passculture/internal/activation/service"
	importmodels "passculture/internal/beneficiaryimport/models"
	depositmodels "passculture/internal/deposit/models"
	"passculture/internal/identitycheck"
	id "passculture/pkg/domain"
	dErrors "passculture/pkg/domain-errors"
	"passculture/pkg/platform/httputil"
	"passculture/pkg/platform/middleware/auth"
)

// ActivationService runs the activation workflow.
type ActivationService interface {
	Process(ctx context.Context, req activation.ProcessRequest) (*activation.Result, error)
}

// ImportLedger reads import histories.
type ImportLedger interface {
	History(ctx context.Context, applicationID id.ApplicationID) (*importmodels.BeneficiaryImport, error)
}

// DepositLister reads the deposits granted to a user.
type DepositLister interface {
	ListForUser(ctx context.Context, userID id.UserID) ([]depositmodels.Deposit, error)
}

// ReviewService applies admin status changes.
type ReviewService interface {
	UpdateStatus(ctx context.Context, applicationID id.ApplicationID, target importmodels.ImportStatus, detail string) (*importmodels.BeneficiaryImport, error)
}

// Handler exposes the provider callback and the admin import endpoints.
type Handler struct {
	logger       *slog.Logger
	activation   ActivationService
	ledger       ImportLedger
	deposits     DepositLister
	review       ReviewService
	jwtValidator auth.JWTValidator
}

// New creates a new activation Handler.
func New(
	activation ActivationService,
	ledger ImportLedger,
	deposits DepositLister,
	review ReviewService,
	jwtValidator auth.JWTValidator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		logger:       logger,
		activation:   activation,
		ledger:       ledger,
		deposits:     deposits,
		review:       review,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/beneficiaries/application_update", h.handleApplicationUpdate)

	r.Route("/admin/beneficiary-imports", func(admin chi.Router) {
		admin.Use(auth.RequireAdmin(h.jwtValidator, h.logger))
		admin.Get("/{applicationID}", h.handleGetImport)
		admin.Post("/{applicationID}/status", h.handleUpdateStatus)
	})
}

// ApplicationUpdateRequest is the identity-check provider callback body.
type ApplicationUpdateRequest struct {
	ID              int64  `json:"id"`
	Source          string `json:"source,omitempty"`
	SourceID        int64  `json:"source_id,omitempty"`
	EligibilityType string `json:"eligibility_type,omitempty"`
}

// DepositResponse describes a granted deposit.
type DepositResponse struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Version        int        `json:"version"`
	Amount         string     `json:"amount"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// ProcessResponse mirrors activation.Result.
type ProcessResponse struct {
	ApplicationID int64            `json:"application_id"`
	Outcome       string           `json:"outcome"`
	Status        string           `json:"status,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Detail        string           `json:"detail,omitempty"`
	UserID        string           `json:"user_id,omitempty"`
	Deposit       *DepositResponse `json:"deposit,omitempty"`
}

// UpdateStatusRequest is the admin review body.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// StatusEntryResponse is one ledger entry.
type StatusEntryResponse struct {
	Seq    int64     `json:"seq"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	Author string    `json:"author,omitempty"`
	At     time.Time `json:"at"`
}

// ImportResponse describes an import, its history and, once linked to a
// user, the deposits that user holds.
type ImportResponse struct {
	ID            string                `json:"id"`
	ApplicationID int64                 `json:"application_id"`
	Source        string                `json:"source"`
	SourceID      int64                 `json:"source_id"`
	UserID        string                `json:"user_id,omitempty"`
	CurrentStatus string                `json:"current_status,omitempty"`
	History       []StatusEntryResponse `json:"history"`
	Deposits      []DepositResponse     `json:"deposits,omitempty"`
}

func (h *Handler) handleApplicationUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ApplicationUpdateRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := toProcessRequest(body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.activation.Process(ctx, req)
	if err != nil {
		var fetchErr *identitycheck.ApplicationFetchError
		if errors.As(err, &fetchErr) {
			h.logger.WarnContext(ctx, "identity check fetch failed",
				"application_id", req.ApplicationID.String(),
				"error", err,
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "identity check provider unavailable"))
			return
		}
		h.logger.ErrorContext(ctx, "activation failed",
			"application_id", req.ApplicationID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toProcessResponse(result))
}

func (h *Handler) handleGetImport(w http.ResponseWriter, r *http.Request) {
	applicationID, err := id.ParseApplicationID(chi.URLParam(r, "applicationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	imp, err := h.ledger.History(r.Context(), applicationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := toImportResponse(imp)
	if imp.UserID != nil {
		deposits, err := h.deposits.ListForUser(r.Context(), *imp.UserID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		for i := range deposits {
			out.Deposits = append(out.Deposits, toDepositResponse(&deposits[i]))
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	applicationID, err := id.ParseApplicationID(chi.URLParam(r, "applicationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body UpdateStatusRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	target, err := importmodels.ParseImportStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	imp, err := h.review.UpdateStatus(ctx, applicationID, target, body.Detail)
	if err != nil {
		h.logger.WarnContext(ctx, "import status update refused",
			"application_id", applicationID.String(),
			"status", string(target),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toImportResponse(imp))
}

func toProcessRequest(body ApplicationUpdateRequest) (activation.ProcessRequest, error) {
	if body.ID <= 0 {
		return activation.ProcessRequest{}, dErrors.New(dErrors.CodeValidation, "id must be a positive application id")
	}
	req := activation.ProcessRequest{
		ApplicationID: id.ApplicationID(body.ID),
		Source:        importmodels.SourceJouve,
		SourceID:      body.SourceID,
	}
	if body.Source != "" {
		src, err := importmodels.ParseSource(strings.ToLower(body.Source))
		if err != nil {
			return activation.ProcessRequest{}, err
		}
		req.Source = src
	}
	if body.EligibilityType != "" {
		t, err := depositmodels.ParseEligibilityType(strings.ToUpper(body.EligibilityType))
		if err != nil {
			return activation.ProcessRequest{}, err
		}
		req.RequestedType = &t
	}
	return req, nil
}

func toProcessResponse(res *activation.Result) ProcessResponse {
	out := ProcessResponse{
		ApplicationID: int64(res.ApplicationID),
		Outcome:       string(res.Outcome),
		Status:        string(res.Status),
		Reason:        string(res.Reason),
		Detail:        res.Detail,
	}
	if res.UserID != nil {
		out.UserID = res.UserID.String()
	}
	if res.Deposit != nil {
		d := toDepositResponse(res.Deposit)
		out.Deposit = &d
	}
	return out
}

func toDepositResponse(d *depositmodels.Deposit) DepositResponse {
	return DepositResponse{
		ID:             d.ID.String(),
		Type:           string(d.Type),
		Version:        d.Version,
		Amount:         d.Amount.StringFixed(2),
		ExpirationDate: d.ExpirationDate,
	}
}

func toImportResponse(imp *importmodels.BeneficiaryImport) ImportResponse {
	out := ImportResponse{
		ID:            imp.ID.String(),
		ApplicationID: int64(imp.ApplicationID),
		Source:        string(imp.Source),
		SourceID:      imp.SourceID,
		History:       make([]StatusEntryResponse, 0, len(imp.History)),
	}
	if imp.UserID != nil {
		out.UserID = imp.UserID.String()
	}
	if status, ok := imp.CurrentStatus(); ok {
		out.CurrentStatus = string(status)
	}
	for _, e := range imp.History {
		out.History = append(out.History, StatusEntryResponse{
			Seq:    e.Seq,
			Status: string(e.Status),
			Detail: e.Detail,
			Author: e.Author,
			At:     e.At,
		})
	}
	return out
}
