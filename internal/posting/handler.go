package posting

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

var validate = validator.New()

// Handler manages posting endpoints. Mounted under the documents route.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/reverse", h.reverse)
}

type postRequest struct {
	ObservedVersion int64 `json:"observed_version" validate:"required"`
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

type postResponse struct {
	DocumentID     int64                     `json:"document_id"`
	LedgerEntryIDs []int64                   `json:"ledger_entry_ids"`
	NewBalances    map[int64]decimal.Decimal `json:"new_balances"`
	AlreadyPosted  bool                      `json:"already_posted"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var req postRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.service.Post(r.Context(), actor.OrgID, id, *actor, req.ObservedVersion)
	if err != nil {
		h.respondServiceError(w, "post document", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, postResponse{
		DocumentID:     result.DocumentID,
		LedgerEntryIDs: result.LedgerEntryIDs,
		NewBalances:    result.NewBalances,
		AlreadyPosted:  result.AlreadyPosted,
	})
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var req reverseRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reversal, err := h.service.Reverse(r.Context(), actor.OrgID, id, *actor, req.Reason)
	if err != nil {
		h.respondServiceError(w, "reverse document", err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, documents.NewDocumentResponse(reversal))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	var vr shared.ViolationReporter
	switch {
	case errors.As(err, &vr):
		documents.RespondViolations(w, vr)
	case errors.Is(err, documents.ErrDocumentNotFound):
		shared.RespondError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, ErrOptimisticLockConflict):
		shared.RespondError(w, http.StatusConflict, "document version conflict, refetch and retry")
	case errors.Is(err, ErrApprovalRequired):
		shared.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotPostable), errors.Is(err, ErrNotReversible):
		shared.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, periods.ErrPeriodClosed):
		shared.RespondError(w, http.StatusConflict, "period is closed")
	case errors.Is(err, shared.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		shared.RespondError(w, http.StatusServiceUnavailable, "account lock wait timed out, retry")
	default:
		h.logger.Error(op, slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
