package types

import "time"

// DashboardStats aggregates the landing-screen figures. Values are placeholder
// data until the ledger modules feed them.
type DashboardStats struct {
	TotalSales         float64                `json:"totalSales"`
	TotalPurchases     float64                `json:"totalPurchases"`
	BankBalance        float64                `json:"bankBalance"`
	PendingInvoices    int                    `json:"pendingInvoices"`
	RecentTransactions []DashboardTransaction `json:"recentTransactions"`
}

type DashboardTransaction struct {
	ID          int       `json:"id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
}

type Notification struct {
	ID        int       `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// SystemConfigEntry is one key/value row of the system configuration table.
type SystemConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description *string   `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
