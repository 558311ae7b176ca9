// Package sheets defines the ledger export surface. The google
// subpackage provides the production implementation.
package sheets

import "context"

// Export events recorded in the audit sheet.
const (
	EventRecorded = "recorded"
	EventVoided   = "voided"
)

// LedgerRow is one audit line in the export sheet.
type LedgerRow struct {
	TransactionID int64
	Event         string
	Date          string
	ItemName      string
	Category      string
	Type          string
	Amount        string
}

// Cells lays the row out in sheet column order.
func (r LedgerRow) Cells() []any {
	return []any{r.TransactionID, r.Event, r.Date, r.ItemName, r.Category, r.Type, r.Amount}
}

// RowAppender appends audit rows to the export ledger.
type RowAppender interface {
	AppendRow(ctx context.Context, row LedgerRow) error
}
