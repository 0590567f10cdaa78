package records

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/atopypass/backend/internal/ai"
	"github.com/atopypass/backend/internal/ledger"
	"github.com/atopypass/backend/internal/memo"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testOwner  = "So11111111111111111111111111111111111111112"
	testOther  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testTxSig  = "5fakeSignature"
	testRaw    = "itchy arms after the gym, used moisturizer"
	testMillis = int64(1700000000)
)

type fakeReader struct {
	view ledger.MemoTransaction
	err  error
}

func (r *fakeReader) ReadMemoTransaction(ctx context.Context, signature string) (ledger.MemoTransaction, error) {
	if r.err != nil {
		return ledger.MemoTransaction{}, r.err
	}
	view := r.view
	view.Signature = signature
	return view, nil
}

type fakeStructurer struct {
	note *ai.StructuredNote
	err  error
}

func (s *fakeStructurer) Structure(ctx context.Context, rawText string) (*ai.StructuredNote, error) {
	return s.note, s.err
}

func mustAddress(t *testing.T, value string) memo.Address {
	t.Helper()
	address, err := memo.NewAddress(value)
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	return address
}

func mustParseHash(t *testing.T, value string) memo.Hash {
	t.Helper()
	hash, err := memo.NewHash(value)
	if err != nil {
		t.Fatalf("unexpected hash error: %v", err)
	}
	return hash
}

func repeatHex(t *testing.T, digit string) string {
	t.Helper()
	return strings.Repeat(digit, 64)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:records_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, reader MemoReader, structurer ai.Structurer) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Reader:     reader,
		Structurer: structurer,
		Clock:      func() time.Time { return time.Unix(testMillis, 0) },
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service, db
}

func recordView(t *testing.T, signer string, hash memo.Hash) ledger.MemoTransaction {
	t.Helper()
	payload := memo.RecordMemo{RecordHash: hash}.Encode()
	return ledger.MemoTransaction{
		Signer:     mustAddress(t, signer),
		Payload:    payload,
		HasPayload: true,
	}
}
