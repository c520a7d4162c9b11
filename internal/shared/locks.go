package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding a store's reconciliation run.
func ReconcileLockKey(storeID int64) string {
	return fmt.Sprintf("ledger:store:%d:reconcile:lock", storeID)
}
