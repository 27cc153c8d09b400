package cli

import "github.com/fileforge/atomix/internal/rollback"

// txnIDOrEmpty converts a --txn flag value to rollback.TransactionID,
// leaving it empty when the flag wasn't passed so the engine falls back to
// its own implicit one-operation transaction.
func txnIDOrEmpty(s string) rollback.TransactionID {
	if s == "" {
		return ""
	}
	return rollback.TransactionID(s)
}
