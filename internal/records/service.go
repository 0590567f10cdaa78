package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atopypass/backend/internal/ai"
	"github.com/atopypass/backend/internal/ledger"
	"github.com/atopypass/backend/internal/memo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRecordNotFound indicates the scoped commit update matched no draft
	// row: the draft does not exist, belongs to someone else, or was
	// already committed. Observably distinct from success, not fatal.
	ErrRecordNotFound = errors.New("records: record not found")
	// ErrHashMismatch indicates the claimed hash disagrees with the hash
	// anchored on the ledger.
	ErrHashMismatch = errors.New("records: hash mismatch")
	// ErrSignerMismatch indicates the transaction signer is not the
	// declared owner.
	ErrSignerMismatch = errors.New("records: signer mismatch")
	// ErrMalformedMemo indicates the transaction carried no decodable
	// RECORD memo.
	ErrMalformedMemo = errors.New("records: malformed memo")
	// ErrEmptyRawText indicates a draft submission without text.
	ErrEmptyRawText = errors.New("records: raw text is required")

	errMissingDatabase = errors.New("database handle is required")
	errMissingReader   = errors.New("memo reader is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation/reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation/reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "records.service.new"
	opDraft      = "records.draft"
	opCommit     = "records.commit"
	opList       = "records.list_for_owner"
	opGet        = "records.get_committed"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// MemoReader exposes the ledger extraction layer the commit engine consumes.
type MemoReader interface {
	ReadMemoTransaction(ctx context.Context, signature string) (ledger.MemoTransaction, error)
}

// ServiceConfig describes the dependencies of the records service.
type ServiceConfig struct {
	Database   *gorm.DB
	Reader     MemoReader
	Structurer ai.Structurer
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service owns Entry rows: it drafts new entries and applies validated
// RECORD memos to transition drafts to committed.
type Service struct {
	db         *gorm.DB
	reader     MemoReader
	structurer ai.Structurer
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the records service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Reader == nil {
		return nil, newServiceError(opServiceNew, "missing_reader", errMissingReader)
	}

	structurer := cfg.Structurer
	if structurer == nil {
		structurer = ai.Disabled()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		reader:     cfg.Reader,
		structurer: structurer,
		clock:      clock,
		logger:     logger,
	}, nil
}

// DraftResult is returned to the client so it can build the RECORD memo
// transaction for the hash it must anchor.
type DraftResult struct {
	Hash       memo.Hash
	Record     CanonicalRecord
	Structured *ai.StructuredNote
}

// Draft canonicalizes and hashes a new entry, structures it best-effort,
// and persists it with status draft. Re-drafting identical content at the
// same timestamp is idempotent: the insert does nothing on conflict.
func (s *Service) Draft(ctx context.Context, ownerAddress memo.Address, rawText string) (DraftResult, error) {
	if rawText == "" {
		return DraftResult{}, newServiceError(opDraft, "empty_raw_text", ErrEmptyRawText)
	}

	record := CanonicalRecord{
		CreatedAt:    s.clock().UTC().Format(time.RFC3339),
		OwnerAddress: ownerAddress.String(),
		RawText:      rawText,
	}
	hash := HashRecord(record)

	structured, err := s.structurer.Structure(ctx, rawText)
	if err != nil {
		// Best-effort collaborator: drafting proceeds without structuring.
		s.logger.Warn("ai structuring failed",
			zap.String("record_hash", hash.String()),
			zap.Error(err))
		structured = nil
	}

	var aiJSON *string
	if structured != nil {
		encoded, err := json.Marshal(structured)
		if err != nil {
			return DraftResult{}, newServiceError(opDraft, "encode_ai_output", err)
		}
		value := string(encoded)
		aiJSON = &value
	}

	entry := Entry{
		RecordHash:    hash.String(),
		OwnerAddress:  ownerAddress.String(),
		CreatedAt:     record.CreatedAt,
		RawText:       rawText,
		AIJSON:        aiJSON,
		CanonicalJSON: record.Canonicalize(),
		Status:        StatusDraft,
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error; err != nil {
		s.logError(opDraft, "insert_failed", err, zap.String("record_hash", hash.String()))
		return DraftResult{}, newServiceError(opDraft, "insert_failed", err)
	}

	return DraftResult{Hash: hash, Record: record, Structured: structured}, nil
}

// Commit verifies the RECORD memo anchored in the referenced transaction
// and transitions the matching draft to committed. The transition is one
// way and scoped to the owner; replaying a commit is a benign
// ErrRecordNotFound. Safe to retry after a transient ledger failure.
func (s *Service) Commit(ctx context.Context, ownerAddress memo.Address, claimedHash memo.Hash, txSignature string) error {
	view, err := s.reader.ReadMemoTransaction(ctx, txSignature)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return err
		}
		s.logError(opCommit, "ledger_read_failed", err, zap.String("tx_sig", txSignature))
		return newServiceError(opCommit, "ledger_read_failed", err)
	}

	if view.Signer != ownerAddress {
		return fmt.Errorf("%w: transaction signed by %s", ErrSignerMismatch, view.Signer)
	}
	if !view.HasPayload {
		return fmt.Errorf("%w: no memo instruction", ErrMalformedMemo)
	}

	parsed, ok := memo.Parse(view.Payload)
	if !ok {
		return fmt.Errorf("%w: undecodable payload", ErrMalformedMemo)
	}
	recordMemo, ok := parsed.(memo.RecordMemo)
	if !ok {
		return fmt.Errorf("%w: expected RECORD, got %s", ErrMalformedMemo, parsed.Action())
	}
	if recordMemo.RecordHash != claimedHash {
		return fmt.Errorf("%w: anchored %s", ErrHashMismatch, recordMemo.RecordHash)
	}

	result := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("record_hash = ? AND owner_address = ? AND status = ?",
			claimedHash.String(), ownerAddress.String(), StatusDraft).
		Updates(map[string]any{
			"status":        StatusCommitted,
			"commit_tx_sig": txSignature,
		})
	if result.Error != nil {
		s.logError(opCommit, "update_failed", result.Error, zap.String("record_hash", claimedHash.String()))
		return newServiceError(opCommit, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// ListForOwner returns the owner's entries, newest first.
func (s *Service) ListForOwner(ctx context.Context, ownerAddress memo.Address) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("owner_address = ?", ownerAddress.String()).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner", ownerAddress.String()))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return entries, nil
}

// GetCommitted returns the committed entry for hash, or ErrRecordNotFound.
func (s *Service) GetCommitted(ctx context.Context, hash memo.Hash) (Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("record_hash = ? AND status = ?", hash.String(), StatusCommitted).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrRecordNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("record_hash", hash.String()))
		return Entry{}, newServiceError(opGet, "query_failed", err)
	}
	return entry, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("records service error", attrs...)
}
