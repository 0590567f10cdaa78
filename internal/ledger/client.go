package ledger

import (
	"context"
	"errors"
)

// ErrTransactionNotFound indicates the ledger has no finalized transaction
// for the requested signature. Callers may retry after confirmation delay.
var ErrTransactionNotFound = errors.New("ledger: transaction not found")

// Instruction is one instruction of a fetched transaction in execution order.
type Instruction struct {
	ProgramIndex int
	DataBase58   string
}

// FinalizedTransaction is the decoded view of a finalized ledger transaction.
// AccountKeys preserves ledger order; index 0 is the fee payer and designated
// signer of the transaction.
type FinalizedTransaction struct {
	Signature    string
	AccountKeys  []string
	Instructions []Instruction
}

// Client fetches finalized transactions from the external ledger.
type Client interface {
	GetFinalizedTransaction(ctx context.Context, signature string) (*FinalizedTransaction, error)
}
