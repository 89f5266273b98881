package delivery

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/buildmat/buildmat/internal/platform/httpx"
	"github.com/buildmat/buildmat/internal/shared"
)

const maxUploadSize = 32 << 20

// Handler serves the upcoming delivery and GRN REST endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers delivery routes. The bulk delete is restricted to
// admins via the supplied middleware.
func (h *Handler) MountRoutes(r chi.Router, adminOnly func(http.Handler) http.Handler) {
	r.Get("/", h.list)
	r.With(adminOnly).Delete("/", h.deleteAll)
	r.Get("/grn", h.listGRN)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Put("/{id}/items", h.reconcileItems)
	r.Post("/{id}/recompute", h.recompute)
	r.Put("/{id}/billing", h.updateBilling)
	r.Post("/{id}/receipts", h.uploadReceipts)
	r.Delete("/{id}/attachments/{attachmentID}", h.deleteAttachment)
}

func (h *Handler) listFilters(r *http.Request) ListFilters {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	siteID, _ := strconv.ParseInt(r.URL.Query().Get("site_id"), 10, 64)
	return ListFilters{
		Search:     r.URL.Query().Get("search"),
		Status:     Status(r.URL.Query().Get("status")),
		OriginType: OriginType(r.URL.Query().Get("origin_type")),
		SiteID:     siteID,
		Page:       page,
		Limit:      limit,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	filters := h.listFilters(r)
	deliveries, total, err := h.service.List(r.Context(), sess, filters)
	if err != nil {
		h.logger.Error("list deliveries", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"deliveries": deliveries,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) listGRN(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	filters := h.listFilters(r)
	deliveries, total, err := h.service.ListGRN(r.Context(), sess, filters)
	if err != nil {
		h.logger.Error("list grn", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"grns":       deliveries,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get delivery")
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

type reconcileRequest struct {
	Items      []ItemUpdate `json:"items"`
	Resolution Resolution   `json:"resolution,omitempty"`
}

func (h *Handler) reconcileItems(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	d, err := h.service.ReconcileItems(r.Context(), id, req.Items, req.Resolution)
	if err != nil {
		h.respondError(w, err, "reconcile delivery items")
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	d, changed, err := h.service.RecomputeStatus(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "recompute delivery status")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"delivery": d, "changed": changed})
}

func (h *Handler) updateBilling(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var input BillingInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	b, err := h.service.UpdateBilling(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err, "update billing")
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) uploadReceipts(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		httpx.ValidationProblem(w, map[string]string{"files": "at least one file is required"})
		return
	}
	var stored []Attachment
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable upload")
			return
		}
		att, err := h.service.AddReceipt(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
		_ = file.Close()
		if err != nil {
			h.respondError(w, err, "upload receipt")
			return
		}
		stored = append(stored, att)
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"attachments": stored})
}

func (h *Handler) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	attID, _ := strconv.ParseInt(chi.URLParam(r, "attachmentID"), 10, 64)
	if err := h.service.RemoveAttachment(r.Context(), id, attID); err != nil {
		h.respondError(w, err, "delete attachment")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err, "delete delivery")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.DeleteAll(r.Context())
	if err != nil {
		h.respondError(w, err, "delete all deliveries")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": count})
}

func (h *Handler) respondError(w http.ResponseWriter, err error, action string) {
	var vErr *ValidationError
	var cErr *ConflictError
	switch {
	case errors.As(err, &vErr):
		httpx.ValidationProblem(w, vErr.Fields)
	case errors.As(err, &cErr):
		ids := make([]string, 0, len(cErr.ItemIDs))
		for _, id := range cErr.ItemIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		httpx.ConflictProblem(w, "items marked received below approved quantity; resolve with \"fill\" or \"keep\"", ids)
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidState):
		httpx.RespondError(w, httpx.ErrInvalidState)
	case errors.Is(err, ErrValidation):
		httpx.RespondError(w, httpx.ErrValidation)
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
