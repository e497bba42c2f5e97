package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hospitium/hospitium/internal/audit"
	"github.com/hospitium/hospitium/internal/platform/httpx"
	"github.com/hospitium/hospitium/internal/rbac"
)

const maxDateRange = 366 * 24 * time.Hour

// Service is the read side of the audit trail.
type Service interface {
	Query(ctx context.Context, f audit.Filters, page, perPage int) (audit.Page, error)
	Export(ctx context.Context, f audit.Filters) ([]byte, error)
}

// Handler serves audit queries and exports.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := positiveInt(r, "page", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perPage, err := positiveInt(r, "per_page", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Query(r.Context(), filters, page, perPage)
	if err != nil {
		h.handleServerError(w, "query audit trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	csvBytes, err := h.service.Export(r.Context(), filters)
	if err != nil {
		if errors.Is(err, audit.ErrExportTooLarge) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Export Too Large", "narrow the filters and try again")
			return
		}
		h.handleServerError(w, "export audit trail", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-trail.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters reads query parameters. Inside a tenant the tenant filter is
// pinned to the request's tenant.
func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	f := audit.Filters{
		Action:   strings.TrimSpace(q.Get("action")),
		Resource: strings.TrimSpace(q.Get("resource")),
		Actor:    strings.TrimSpace(q.Get("actor")),
		TenantID: strings.TrimSpace(q.Get("tenant")),
	}
	if tenant := rbac.TenantFromContext(r.Context()); tenant != rbac.GlobalScope {
		if f.TenantID != "" && f.TenantID != tenant {
			return audit.Filters{}, validationError("tenant")
		}
		f.TenantID = tenant
	}

	var err error
	if f.CreatedFrom, err = parseTime(q.Get("from"), false); err != nil {
		return audit.Filters{}, validationError("from")
	}
	if f.CreatedTo, err = parseTime(q.Get("to"), true); err != nil {
		return audit.Filters{}, validationError("to")
	}
	if !f.CreatedFrom.IsZero() && !f.CreatedTo.IsZero() {
		if !f.CreatedFrom.Before(f.CreatedTo) || f.CreatedTo.Sub(f.CreatedFrom) > maxDateRange {
			return audit.Filters{}, validationError("range")
		}
	}
	return f, nil
}

// parseTime accepts RFC3339 or a bare date. A bare "to" date covers the whole
// day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func positiveInt(r *http.Request, key string, fallback int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return 0, validationError(key)
	}
	return parsed, nil
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	if errors.Is(err, context.DeadlineExceeded) {
		httpx.RespondError(w, httpx.ErrUnavailable)
		return
	}
	httpx.RespondError(w, err)
}

func validationError(field string) error {
	return &fieldError{field: field}
}

type fieldError struct {
	field string
}

func (e *fieldError) Error() string {
	return "invalid " + e.field
}

func (e *fieldError) Unwrap() error {
	return httpx.ErrValidation
}
