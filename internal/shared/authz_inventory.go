package shared

// Inventory adjustment and cash book permissions.
const (
	PermAdjustmentsView    = "adjustments.view"
	PermAdjustmentsCreate  = "adjustments.create"
	PermAdjustmentsApprove = "adjustments.approve"

	PermCashbookView = "cashbook.view"
)

// BackofficeScopes lists every permission the service checks.
func BackofficeScopes() []string {
	return []string{
		PermAdjustmentsView,
		PermAdjustmentsCreate,
		PermAdjustmentsApprove,
		PermCashbookView,
	}
}
