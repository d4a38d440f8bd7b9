package periods

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler manages period endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
	r.Post("/{id}/close", h.close)
	r.Post("/{id}/reopen", h.reopen)
}

type periodResponse struct {
	ID        int64        `json:"id"`
	Code      string       `json:"code"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Status    PeriodStatus `json:"status"`
}

func toResponse(p Period) periodResponse {
	return periodResponse{
		ID:        p.ID,
		Code:      p.Code,
		StartDate: p.StartDate.Format("2006-01-02"),
		EndDate:   p.EndDate.Format("2006-01-02"),
		Status:    p.Status,
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid period id")
		return
	}
	period, err := h.service.Get(r.Context(), actor.OrgID, id)
	if err != nil {
		h.respondServiceError(w, "get period", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, toResponse(period))
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, "close")
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, "reopen")
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, op string) {
	actor := shared.ActorFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid period id")
		return
	}
	var period Period
	if op == "close" {
		period, err = h.service.ClosePeriod(r.Context(), actor.OrgID, id, *actor)
	} else {
		period, err = h.service.ReopenPeriod(r.Context(), actor.OrgID, id, *actor)
	}
	if err != nil {
		h.respondServiceError(w, op+" period", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, toResponse(period))
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrPeriodNotFound):
		shared.RespondError(w, http.StatusNotFound, "period not found")
	case errors.Is(err, shared.ErrForbidden):
		shared.RespondError(w, http.StatusForbidden, "period administration requires an elevated role")
	case errors.Is(err, ErrInvalidTransition):
		shared.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
