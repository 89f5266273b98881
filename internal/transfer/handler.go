package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buildmat/buildmat/internal/platform/httpx"
	"github.com/buildmat/buildmat/internal/shared"
)

const maxUploadSize = 20 << 20

// Handler serves the site transfer REST endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers site transfer routes. The bulk delete wipes every
// transfer and is restricted to admins via the supplied middleware.
func (h *Handler) MountRoutes(r chi.Router, adminOnly func(http.Handler) http.Handler) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.With(adminOnly).Delete("/", h.deleteAll)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/cancel", h.cancel)
	r.Post("/{id}/attachments", h.uploadAttachment)
	r.Delete("/{id}/attachments/{attachmentID}", h.deleteAttachment)
}

type transferRequest struct {
	FromSiteID  int64           `json:"from_site_id"`
	ToSiteID    int64           `json:"to_site_id"`
	RequestedBy string          `json:"requested_by"`
	Remarks     string          `json:"remarks"`
	RequestDate time.Time       `json:"request_date"`
	Materials   []MaterialInput `json:"materials"`
}

func (req transferRequest) toInput() CreateInput {
	return CreateInput{
		FromSiteID:  req.FromSiteID,
		ToSiteID:    req.ToSiteID,
		RequestedBy: req.RequestedBy,
		Remarks:     req.Remarks,
		RequestDate: req.RequestDate,
		Materials:   req.Materials,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	siteID, _ := strconv.ParseInt(r.URL.Query().Get("site_id"), 10, 64)
	filters := ListFilters{
		Search: r.URL.Query().Get("search"),
		Status: Status(r.URL.Query().Get("status")),
		SiteID: siteID,
		Page:   page,
		Limit:  limit,
	}
	transfers, total, err := h.service.List(r.Context(), sess, filters)
	if err != nil {
		h.logger.Error("list site transfers", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"site_transfers": transfers,
		"pagination":     shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get site transfer")
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	st, err := h.service.Create(r.Context(), req.toInput())
	if err != nil {
		h.respondError(w, err, "create site transfer")
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	st, err := h.service.Update(r.Context(), id, req.toInput())
	if err != nil {
		h.respondError(w, err, "update site transfer")
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	sess := shared.SessionFromContext(r.Context())
	if err := h.service.Approve(r.Context(), id, sess.Name); err != nil {
		h.respondError(w, err, "approve site transfer")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.respondError(w, err, "cancel site transfer")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err, "delete site transfer")
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deleteAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.DeleteAll(r.Context())
	if err != nil {
		h.respondError(w, err, "delete all site transfers")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": count})
}

func (h *Handler) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"file": "is required"})
		return
	}
	defer func() { _ = file.Close() }()
	att, err := h.service.AddAttachment(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		h.respondError(w, err, "upload attachment")
		return
	}
	httpx.JSON(w, http.StatusCreated, att)
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

func (h *Handler) respondError(w http.ResponseWriter, err error, action string) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		httpx.ValidationProblem(w, vErr.Fields)
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrInvalidState):
		httpx.RespondError(w, httpx.ErrInvalidState)
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
