package enums

// ErpSyncStatus tracks whether a sale has been exported to the ERP.
type ErpSyncStatus string

const (
	ErpSyncStatusPending  ErpSyncStatus = "PENDING"
	ErpSyncStatusExported ErpSyncStatus = "EXPORTED"
)
