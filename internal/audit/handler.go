package audit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler manages audit trail endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/verify", h.verify)
	r.Get("/export.csv", h.exportCSV)
}

type verifyResponse struct {
	OK          bool   `json:"ok"`
	Checked     int    `json:"checked"`
	MismatchSeq int64  `json:"mismatch_seq,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	result, err := h.service.VerifyChain(r.Context(), actor.OrgID)
	if err != nil {
		h.logger.Error("verify audit chain", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	shared.RespondJSON(w, http.StatusOK, verifyResponse{
		OK:          result.OK,
		Checked:     result.Checked,
		MismatchSeq: result.MismatchSeq,
		Reason:      result.Reason,
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_trail.csv"`)
	if err := h.service.ExportCSV(r.Context(), actor.OrgID, w); err != nil {
		// Headers are already out; all we can do is log and cut the stream.
		h.logger.Error("export audit csv", slog.Any("error", err))
	}
}
