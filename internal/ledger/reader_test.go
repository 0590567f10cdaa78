package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

const (
	readerTestSigner = "So11111111111111111111111111111111111111112"
	readerTestOther  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

type staticClient struct {
	transaction *FinalizedTransaction
	err         error
}

func (c *staticClient) GetFinalizedTransaction(ctx context.Context, signature string) (*FinalizedTransaction, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.transaction, nil
}

func newTestReader(t *testing.T, client Client) *Reader {
	t.Helper()
	reader, err := NewReader(ReaderConfig{Client: client, MemoProgramID: "MemoProgram"})
	if err != nil {
		t.Fatalf("unexpected reader error: %v", err)
	}
	return reader
}

func memoInstruction(t *testing.T, programIndex int, payload string) Instruction {
	t.Helper()
	return Instruction{ProgramIndex: programIndex, DataBase58: base58.Encode([]byte(payload))}
}

func TestNewReaderRequiresClient(t *testing.T) {
	if _, err := NewReader(ReaderConfig{}); !errors.Is(err, ErrInvalidReaderConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}

func TestReadMemoTransactionExtractsSignerAndPayload(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{
		Signature:   "sig-1",
		AccountKeys: []string{readerTestSigner, "MemoProgram"},
		Instructions: []Instruction{
			memoInstruction(t, 1, "AP1|RECORD|deadbeef"),
		},
	}}

	view, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Signer.String() != readerTestSigner {
		t.Fatalf("unexpected signer: %s", view.Signer)
	}
	if !view.HasPayload || view.Payload != "AP1|RECORD|deadbeef" {
		t.Fatalf("unexpected payload: %#v", view)
	}
}

func TestReadMemoTransactionTakesFirstMemoOnly(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{
		Signature:   "sig-2",
		AccountKeys: []string{readerTestSigner, "MemoProgram", readerTestOther},
		Instructions: []Instruction{
			{ProgramIndex: 2, DataBase58: base58.Encode([]byte("unrelated"))},
			memoInstruction(t, 1, "first"),
			memoInstruction(t, 1, "second"),
		},
	}}

	view, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Payload != "first" {
		t.Fatalf("expected first memo payload, got %q", view.Payload)
	}
}

func TestReadMemoTransactionWithoutMemo(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{
		Signature:   "sig-3",
		AccountKeys: []string{readerTestSigner, readerTestOther},
		Instructions: []Instruction{
			{ProgramIndex: 1, DataBase58: base58.Encode([]byte("transfer"))},
		},
	}}

	view, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.HasPayload {
		t.Fatalf("expected no payload, got %q", view.Payload)
	}
}

func TestReadMemoTransactionSkipsOutOfRangeProgramIndex(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{
		Signature:   "sig-4",
		AccountKeys: []string{readerTestSigner},
		Instructions: []Instruction{
			{ProgramIndex: 9, DataBase58: base58.Encode([]byte("out of range"))},
		},
	}}

	view, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.HasPayload {
		t.Fatalf("expected adversarial index to be skipped")
	}
}

func TestReadMemoTransactionUndecodableMemoData(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{
		Signature:   "sig-5",
		AccountKeys: []string{readerTestSigner, "MemoProgram"},
		Instructions: []Instruction{
			{ProgramIndex: 1, DataBase58: "0OIl-not-base58"},
		},
	}}

	view, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.HasPayload {
		t.Fatalf("expected undecodable memo to yield no payload")
	}
}

func TestReadMemoTransactionRejectsEmptyAccountList(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{Signature: "sig-6"}}

	if _, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-6"); !errors.Is(err, ErrMalformedTransaction) {
		t.Fatalf("expected malformed transaction error, got %v", err)
	}
}

func TestReadMemoTransactionRejectsInvalidSigner(t *testing.T) {
	client := &staticClient{transaction: &FinalizedTransaction{
		Signature:   "sig-7",
		AccountKeys: []string{"not-an-address"},
	}}

	if _, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-7"); !errors.Is(err, ErrMalformedTransaction) {
		t.Fatalf("expected malformed transaction error, got %v", err)
	}
}

func TestReadMemoTransactionPropagatesNotFound(t *testing.T) {
	client := &staticClient{err: ErrTransactionNotFound}

	if _, err := newTestReader(t, client).ReadMemoTransaction(context.Background(), "sig-8"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
