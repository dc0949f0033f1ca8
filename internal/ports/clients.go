package ports

import "context"

type TransferResult struct {
	TransferID string
}

// TransferClient is the connected-account transfer API. Implementations must
// forward the idempotency key so a retried call never double-transfers.
type TransferClient interface {
	Transfer(ctx context.Context, destinationAccountID string, amount int64, currency, idempotencyKey string) (TransferResult, error)

	// LookupByIdempotencyKey asks the provider whether a transfer with the
	// given key already settled. Used only by stuck-state reconciliation.
	LookupByIdempotencyKey(ctx context.Context, idempotencyKey string) (TransferResult, bool, error)
}

// DirectoryReader is the read-only view onto the booking/equipment store
// owned by the marketplace core.
type DirectoryReader interface {
	PayeeConnectAccount(ctx context.Context, payeeID string) (string, error)
	EquipmentTitle(ctx context.Context, equipmentID string) (string, error)
}
