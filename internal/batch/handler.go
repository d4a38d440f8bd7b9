package batch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

var validate = validator.New()

// Enqueuer submits a batch to the background queue. Satisfied by the jobs
// client adapter.
type Enqueuer interface {
	EnqueueBatchPost(ctx context.Context, orgID int64, documentIDs []int64, actorID int64) (string, error)
}

// Handler manages batch posting endpoints.
type Handler struct {
	logger   *slog.Logger
	worker   *Worker
	enqueuer Enqueuer
}

// NewHandler builds a Handler instance. The enqueuer may be nil; async
// requests then fall back to synchronous execution.
func NewHandler(logger *slog.Logger, worker *Worker, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, worker: worker, enqueuer: enqueuer}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/post", h.post)
	r.Post("/post-pending", h.postPending)
}

type postRequest struct {
	DocumentIDs []int64 `json:"document_ids" validate:"required,min=1,max=1000"`
	Async       bool    `json:"async"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	var req postRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Async && h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueueBatchPost(r.Context(), actor.OrgID, req.DocumentIDs, actor.ID)
		if err != nil {
			h.logger.Error("enqueue batch post", slog.Any("error", err))
			shared.RespondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		shared.RespondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
		return
	}

	summary := h.worker.Run(r.Context(), actor.OrgID, req.DocumentIDs, *actor)
	shared.RespondJSON(w, http.StatusOK, summary)
}

// postPending drains every approved document of the org.
func (h *Handler) postPending(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	summary, err := h.worker.RunPending(r.Context(), actor.OrgID, *actor)
	if err != nil {
		h.logger.Error("batch post pending", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	shared.RespondJSON(w, http.StatusOK, summary)
}
