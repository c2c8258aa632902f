package system

import (
	"log/slog"
	"net/http"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/api/audit"
)

const auditFeedLimit = 100

type HandlerImpl struct {
	systemRepo Repo
	auditRepo  audit.Repo
	logger     *slog.Logger
}

func NewHandlerImpl(systemRepo Repo, auditRepo audit.Repo, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		systemRepo: systemRepo,
		auditRepo:  auditRepo,
		logger:     logger,
	}
}

// GetAuditLog returns the newest audit entries with actor usernames.
func (h *HandlerImpl) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "GetAuditLog"))

	entries, err := h.auditRepo.ListRecent(r.Context(), auditFeedLimit)
	if err != nil {
		l.ErrorContext(r.Context(), "Failed to list audit entries", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load audit log")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, entries)
}

// GetConfig lists the system configuration table.
func (h *HandlerImpl) GetConfig(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("HandlerImpl", "GetConfig"))

	entries, err := h.systemRepo.ListConfig(r.Context())
	if err != nil {
		l.ErrorContext(r.Context(), "Failed to list configuration", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to load configuration")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, entries)
}
