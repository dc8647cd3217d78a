package rbac

import "github.com/odyssey-erp/backoffice/internal/shared"

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ApprovePermission grants authority to approve or reject adjustments.
const ApprovePermission = shared.PermAdjustmentsApprove
