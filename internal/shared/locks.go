package shared

import "fmt"

// StockLockKey builds the lock key guarding one (warehouse, item) balance.
func StockLockKey(warehouseID, itemID int64) string {
	return fmt.Sprintf("stock:balance:%d:%d:lock", warehouseID, itemID)
}

// CreditLockKey builds the lock key guarding payments on a credit.
func CreditLockKey(creditID int64) string {
	return fmt.Sprintf("credit:%d:lock", creditID)
}
