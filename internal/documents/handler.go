package documents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

var validate = validator.New()

// Handler manages document endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	lifecycle *Manager
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, lifecycle *Manager) *Handler {
	return &Handler{logger: logger, service: service, lifecycle: lifecycle}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/transition", h.transition)
}

type lineRequest struct {
	AccountID     int64           `json:"account_id" validate:"required"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	DimDepartment *string         `json:"dim_department"`
	DimProject    *string         `json:"dim_project"`
	DimCostCenter *string         `json:"dim_cost_center"`
}

type createRequest struct {
	Type         string          `json:"type" validate:"required"`
	PeriodID     int64           `json:"period_id" validate:"required"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Memo         string          `json:"memo"`
	Lines        []lineRequest   `json:"lines" validate:"required,min=1,dive"`
}

type updateRequest struct {
	ObservedVersion int64           `json:"observed_version" validate:"required"`
	PeriodID        int64           `json:"period_id" validate:"required"`
	Date            string          `json:"date" validate:"required,datetime=2006-01-02"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Memo            string          `json:"memo"`
	Lines           []lineRequest   `json:"lines" validate:"required,min=1,dive"`
}

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
}

type lineResponse struct {
	ID            int64           `json:"id"`
	Position      int             `json:"position"`
	AccountID     int64           `json:"account_id"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	DimDepartment *string         `json:"dim_department,omitempty"`
	DimProject    *string         `json:"dim_project,omitempty"`
	DimCostCenter *string         `json:"dim_cost_center,omitempty"`
}

type documentResponse struct {
	ID           int64           `json:"id"`
	Number       int64           `json:"number"`
	Type         string          `json:"type"`
	PeriodID     int64           `json:"period_id"`
	Date         string          `json:"date"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Memo         string          `json:"memo,omitempty"`
	State        DocumentState   `json:"state"`
	Version      int64           `json:"version"`
	ReversalOfID *int64          `json:"reversal_of_id,omitempty"`
	ReversedByID *int64          `json:"reversed_by_id,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	Lines        []lineResponse  `json:"lines"`
}

// NewDocumentResponse maps a document to its JSON representation.
func NewDocumentResponse(doc Document) any {
	return toResponse(doc)
}

func toResponse(doc Document) documentResponse {
	resp := documentResponse{
		ID:           doc.ID,
		Number:       doc.Number,
		Type:         doc.Type,
		PeriodID:     doc.PeriodID,
		Date:         doc.Date.Format("2006-01-02"),
		Currency:     doc.Currency,
		ExchangeRate: doc.ExchangeRate,
		Memo:         doc.Memo,
		State:        doc.State,
		Version:      doc.Version,
		ReversalOfID: doc.ReversalOfID,
		ReversedByID: doc.ReversedByID,
		CreatedBy:    doc.CreatedBy,
		Lines:        make([]lineResponse, 0, len(doc.Lines)),
	}
	for _, line := range doc.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:            line.ID,
			Position:      line.Position,
			AccountID:     line.AccountID,
			Debit:         line.Debit,
			Credit:        line.Credit,
			DimDepartment: line.DimDepartment,
			DimProject:    line.DimProject,
			DimCostCenter: line.DimCostCenter,
		})
	}
	return resp
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:     line.AccountID,
			Debit:         line.Debit,
			Credit:        line.Credit,
			DimDepartment: line.DimDepartment,
			DimProject:    line.DimProject,
			DimCostCenter: line.DimCostCenter,
		})
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	docs, err := h.service.List(r.Context(), actor.OrgID)
	if err != nil {
		h.respondServiceError(w, "list documents", err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toResponse(doc))
	}
	shared.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := h.service.Get(r.Context(), actor.OrgID, id)
	if err != nil {
		h.respondServiceError(w, "get document", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, toResponse(doc))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	var req createRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)
	rate := req.ExchangeRate
	if rate.Sign() == 0 {
		rate = decimal.NewFromInt(1)
	}
	doc, err := h.service.CreateDraft(r.Context(), CreateInput{
		OrgID:        actor.OrgID,
		Type:         req.Type,
		PeriodID:     req.PeriodID,
		Date:         date,
		Currency:     req.Currency,
		ExchangeRate: rate,
		Memo:         req.Memo,
		CreatedBy:    actor.ID,
		Lines:        toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondServiceError(w, "create draft", err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, toResponse(doc))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var req updateRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)
	rate := req.ExchangeRate
	if rate.Sign() == 0 {
		rate = decimal.NewFromInt(1)
	}
	doc, err := h.service.UpdateDraft(r.Context(), UpdateInput{
		DocumentID:      id,
		OrgID:           actor.OrgID,
		ObservedVersion: req.ObservedVersion,
		Date:            date,
		PeriodID:        req.PeriodID,
		Currency:        req.Currency,
		ExchangeRate:    rate,
		Memo:            req.Memo,
		ActorID:         actor.ID,
		Lines:           toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondServiceError(w, "update draft", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, toResponse(doc))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	id, err := parseID(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	var req transitionRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := h.lifecycle.Transition(r.Context(), actor.OrgID, id, DocumentState(req.Target), *actor)
	if err != nil {
		h.respondServiceError(w, "transition document", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, toResponse(doc))
}

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	var vr shared.ViolationReporter
	switch {
	case errors.As(err, &vr):
		RespondViolations(w, vr)
	case errors.Is(err, ErrDocumentNotFound):
		shared.RespondError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, ErrVersionConflict):
		shared.RespondError(w, http.StatusConflict, "document version conflict")
	case errors.Is(err, ErrNotEditable):
		shared.RespondError(w, http.StatusConflict, "document is not editable")
	case errors.Is(err, ErrLifecycleViolation):
		shared.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

// RespondViolations writes a 422 carrying the hard violations that blocked
// the operation.
func RespondViolations(w http.ResponseWriter, vr shared.ViolationReporter) {
	shared.RespondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":      "validation failed",
		"violations": vr.Report(),
	})
}
