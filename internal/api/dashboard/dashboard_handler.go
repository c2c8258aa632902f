package dashboard

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

// HandlerImpl serves the landing-screen endpoints. The figures are placeholder
// data until the ledger modules exist to feed them.
type HandlerImpl struct {
	logger *slog.Logger
}

func NewHandlerImpl(logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{logger: logger}
}

func (h *HandlerImpl) GetStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	stats := types.DashboardStats{
		TotalSales:      125000.50,
		TotalPurchases:  85000.25,
		BankBalance:     45000.75,
		PendingInvoices: 12,
		RecentTransactions: []types.DashboardTransaction{
			{ID: 1, Description: "Venta de pasajes", Amount: 15000, Date: now},
			{ID: 2, Description: "Compra de combustible", Amount: -8500, Date: now.Add(-24 * time.Hour)},
		},
	}
	api.WriteJSONResponse(w, r, http.StatusOK, stats)
}

func (h *HandlerImpl) GetNotifications(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	notifications := []types.Notification{
		{ID: 1, Message: "Factura pendiente de aprobación", Type: "warning", CreatedAt: now},
		{ID: 2, Message: "Conciliación bancaria completada", Type: "info", CreatedAt: now.Add(-2 * time.Hour)},
	}
	api.WriteJSONResponse(w, r, http.StatusOK, notifications)
}
