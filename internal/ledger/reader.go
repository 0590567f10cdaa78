package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/atopypass/backend/internal/memo"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

var (
	// ErrInvalidReaderConfig indicates the reader configuration is unusable.
	ErrInvalidReaderConfig = errors.New("ledger: invalid reader config")
	// ErrMalformedTransaction indicates a fetched transaction that cannot
	// carry a protocol memo (no accounts, or an unparsable signer).
	ErrMalformedTransaction = errors.New("ledger: malformed transaction")

	errMissingClient = errors.New("ledger client is required")
)

// MemoTransaction is the extraction-layer view the projection engines
// consume: who signed, and the first memo payload if one exists. Payload
// contents are not validated here.
type MemoTransaction struct {
	Signature  string
	Signer     memo.Address
	Payload    string
	HasPayload bool
}

// ReaderConfig bundles dependencies for the transaction reader.
type ReaderConfig struct {
	Client        Client
	MemoProgramID string
	Logger        *zap.Logger
}

// Reader extracts the signer identity and memo payload from finalized
// transactions fetched through a Client.
type Reader struct {
	client    Client
	programID string
	logger    *zap.Logger
}

// NewReader constructs a Reader with validated configuration.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReaderConfig, errMissingClient)
	}

	programID := strings.TrimSpace(cfg.MemoProgramID)
	if programID == "" {
		programID = memo.ProgramID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reader{client: cfg.Client, programID: programID, logger: logger}, nil
}

// ReadMemoTransaction fetches the finalized transaction for signature and
// extracts the fee payer as signer plus the payload of the first memo
// program instruction. Only the first memo instruction is considered;
// clients must not embed more than one protocol memo per transaction.
func (r *Reader) ReadMemoTransaction(ctx context.Context, signature string) (MemoTransaction, error) {
	transaction, err := r.client.GetFinalizedTransaction(ctx, signature)
	if err != nil {
		return MemoTransaction{}, err
	}

	if len(transaction.AccountKeys) == 0 {
		return MemoTransaction{}, fmt.Errorf("%w: no account keys", ErrMalformedTransaction)
	}

	signer, err := memo.NewAddress(transaction.AccountKeys[0])
	if err != nil {
		return MemoTransaction{}, fmt.Errorf("%w: signer: %v", ErrMalformedTransaction, err)
	}

	view := MemoTransaction{Signature: signature, Signer: signer}

	for _, instruction := range transaction.Instructions {
		if instruction.ProgramIndex < 0 || instruction.ProgramIndex >= len(transaction.AccountKeys) {
			continue
		}
		if transaction.AccountKeys[instruction.ProgramIndex] != r.programID {
			continue
		}

		data, err := base58.Decode(instruction.DataBase58)
		if err != nil || !utf8.Valid(data) {
			r.logger.Warn("memo instruction data undecodable",
				zap.String("signature", signature),
				zap.Error(err))
			return view, nil
		}
		view.Payload = string(data)
		view.HasPayload = true
		return view, nil
	}

	return view, nil
}
