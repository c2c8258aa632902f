package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/saldiviabuses/erp-server/internal/types"
)

// Recorder writes audit entries without failing the calling operation. A lost
// audit row is logged but never blocks the admin action that produced it.
type Recorder struct {
	repo   Repo
	logger *slog.Logger
}

func NewRecorder(repo Repo, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
	}
}

func (rec *Recorder) Record(ctx context.Context, record types.AuditRecord) {
	if err := rec.repo.Insert(ctx, record); err != nil {
		rec.logger.WarnContext(ctx, "Failed to write audit entry",
			slog.String("action", record.Action),
			slog.String("resource", record.Resource),
			slog.Any("error", err))
	}
}

// RequestMeta extracts the client address and user agent of a request for
// audit rows. The port is stripped from RemoteAddr when present.
func RequestMeta(r *http.Request) (ipAddress, userAgent *string) {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr != "" {
		ipAddress = &addr
	}
	if ua := r.UserAgent(); ua != "" {
		userAgent = &ua
	}
	return ipAddress, userAgent
}
