package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atopypass/backend/internal/ledger"
	"github.com/atopypass/backend/internal/memo"
	"github.com/atopypass/backend/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSignerMismatch indicates the transaction signer is not the
	// declared owner, or a grant references a record the signer does not
	// own. The ledger signature is the sole credential for consent
	// mutations; this error is never retried.
	ErrSignerMismatch = errors.New("consent: signer mismatch")
	// ErrMalformedMemo indicates the transaction carried no decodable
	// GRANT or REVOKE memo.
	ErrMalformedMemo = errors.New("consent: malformed memo")
	// ErrRecordNotFound indicates a grant referencing a record that was
	// never drafted.
	ErrRecordNotFound = errors.New("consent: record not found")

	errMissingStore  = errors.New("consent: database handle is required")
	errMissingReader = errors.New("consent: memo reader is required")
)

// MemoReader exposes the ledger extraction layer the projection consumes.
type MemoReader interface {
	ReadMemoTransaction(ctx context.Context, signature string) (ledger.MemoTransaction, error)
}

// ServiceConfig describes the dependencies of the consent service.
type ServiceConfig struct {
	Database *gorm.DB
	Reader   MemoReader
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns Consent rows: it projects validated GRANT/REVOKE memos into
// the consent table and answers read-path authorization queries.
type Service struct {
	db     *gorm.DB
	reader MemoReader
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the consent service with validated configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingStore
	}
	if cfg.Reader == nil {
		return nil, errMissingReader
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{db: cfg.Database, reader: cfg.Reader, now: clock, logger: logger}, nil
}

// Outcome reports the effective action of an applied consent memo.
// ExpiryUnix is set for grants only.
type Outcome struct {
	Action     memo.Action
	RecordHash memo.Hash
	Doctor     memo.Address
	ExpiryUnix int64
}

// Apply fetches the referenced transaction, verifies the signer is the
// declared owner, and projects the embedded GRANT or REVOKE memo into the
// consent table. Idempotent: replaying the same signature converges on the
// same row state.
func (s *Service) Apply(ctx context.Context, ownerAddress memo.Address, txSignature string) (Outcome, error) {
	view, err := s.reader.ReadMemoTransaction(ctx, txSignature)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return Outcome{}, err
		}
		s.logger.Error("consent ledger read failed", zap.String("tx_sig", txSignature), zap.Error(err))
		return Outcome{}, fmt.Errorf("consent: ledger read failed: %w", err)
	}

	if view.Signer != ownerAddress {
		return Outcome{}, fmt.Errorf("%w: transaction signed by %s", ErrSignerMismatch, view.Signer)
	}
	if !view.HasPayload {
		return Outcome{}, fmt.Errorf("%w: no memo instruction", ErrMalformedMemo)
	}

	parsed, ok := memo.Parse(view.Payload)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: undecodable payload", ErrMalformedMemo)
	}

	switch m := parsed.(type) {
	case memo.GrantMemo:
		return s.applyGrant(ctx, ownerAddress, m, txSignature)
	case memo.RevokeMemo:
		return s.applyRevoke(ctx, ownerAddress, m, txSignature)
	}
	return Outcome{}, fmt.Errorf("%w: expected GRANT or REVOKE, got %s", ErrMalformedMemo, parsed.Action())
}

// applyGrant upserts the (record_hash, doctor) row. A repeated grant
// refreshes: it un-revokes and re-extends the expiry.
func (s *Service) applyGrant(ctx context.Context, owner memo.Address, grant memo.GrantMemo, txSignature string) (Outcome, error) {
	var entry records.Entry
	err := s.db.WithContext(ctx).
		Where("record_hash = ?", grant.RecordHash.String()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{}, fmt.Errorf("%w: %s", ErrRecordNotFound, grant.RecordHash)
	}
	if err != nil {
		s.logger.Error("consent grant record lookup failed", zap.String("record_hash", grant.RecordHash.String()), zap.Error(err))
		return Outcome{}, fmt.Errorf("consent: record lookup failed: %w", err)
	}
	// Only the patient who owns a record may grant access to it.
	if entry.OwnerAddress != owner.String() {
		return Outcome{}, fmt.Errorf("%w: record owned by another patient", ErrSignerMismatch)
	}

	row := Consent{
		RecordHash:    grant.RecordHash.String(),
		DoctorAddress: grant.Doctor.String(),
		OwnerAddress:  owner.String(),
		ExpiryUnix:    grant.ExpiryUnix,
		Revoked:       false,
		LastTxSig:     txSignature,
		UpdatedAt:     s.now().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "record_hash"}, {Name: "doctor_address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"owner_address", "expiry_unix", "revoked", "last_tx_sig", "updated_at",
			}),
		}).
		Create(&row).Error
	if err != nil {
		s.logger.Error("consent grant upsert failed", zap.String("record_hash", grant.RecordHash.String()), zap.Error(err))
		return Outcome{}, fmt.Errorf("consent: grant upsert failed: %w", err)
	}

	return Outcome{
		Action:     memo.ActionGrant,
		RecordHash: grant.RecordHash,
		Doctor:     grant.Doctor,
		ExpiryUnix: grant.ExpiryUnix,
	}, nil
}

// applyRevoke flags the row revoked. The update is scoped by owner as well
// so a revoke can never touch another owner's consent row, and affecting
// zero rows is success: the grant may never have existed.
func (s *Service) applyRevoke(ctx context.Context, owner memo.Address, revoke memo.RevokeMemo, txSignature string) (Outcome, error) {
	err := s.db.WithContext(ctx).
		Model(&Consent{}).
		Where("record_hash = ? AND doctor_address = ? AND owner_address = ?",
			revoke.RecordHash.String(), revoke.Doctor.String(), owner.String()).
		Updates(map[string]any{
			"revoked":     true,
			"last_tx_sig": txSignature,
			"updated_at":  s.now().UTC(),
		}).Error
	if err != nil {
		s.logger.Error("consent revoke update failed", zap.String("record_hash", revoke.RecordHash.String()), zap.Error(err))
		return Outcome{}, fmt.Errorf("consent: revoke update failed: %w", err)
	}

	return Outcome{
		Action:     memo.ActionRevoke,
		RecordHash: revoke.RecordHash,
		Doctor:     revoke.Doctor,
	}, nil
}

// Authorize reports whether doctor holds an active consent for hash at the
// given instant. Evaluated per request; results must never be cached.
func (s *Service) Authorize(ctx context.Context, hash memo.Hash, doctor memo.Address, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Consent{}).
		Where("record_hash = ? AND doctor_address = ? AND revoked = ? AND expiry_unix > ?",
			hash.String(), doctor.String(), false, now.Unix()).
		Count(&count).Error
	if err != nil {
		s.logger.Error("consent authorize query failed", zap.String("record_hash", hash.String()), zap.Error(err))
		return false, fmt.Errorf("consent: authorize query failed: %w", err)
	}
	return count > 0, nil
}

// GrantedRecord is a committed entry visible to a doctor through an active
// consent.
type GrantedRecord struct {
	RecordHash   string  `gorm:"column:record_hash"`
	OwnerAddress string  `gorm:"column:owner_address"`
	CreatedAt    string  `gorm:"column:created_at"`
	AIJSON       *string `gorm:"column:ai_json"`
}

// ListGrantedRecords returns the committed records doctor currently has
// active consent for, newest first.
func (s *Service) ListGrantedRecords(ctx context.Context, doctor memo.Address, now time.Time) ([]GrantedRecord, error) {
	var rows []GrantedRecord
	err := s.db.WithContext(ctx).
		Table("consents").
		Select("records.record_hash, records.owner_address, records.created_at, records.ai_json").
		Joins("JOIN records ON records.record_hash = consents.record_hash").
		Where("consents.doctor_address = ? AND consents.revoked = ? AND consents.expiry_unix > ? AND records.status = ?",
			doctor.String(), false, now.Unix(), records.StatusCommitted).
		Order("records.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		s.logger.Error("consent granted records query failed", zap.String("doctor", doctor.String()), zap.Error(err))
		return nil, fmt.Errorf("consent: granted records query failed: %w", err)
	}
	return rows, nil
}

// ListForRecord returns the latest-state consent rows for an owner's
// record, most recently updated first.
func (s *Service) ListForRecord(ctx context.Context, hash memo.Hash, owner memo.Address) ([]Consent, error) {
	var rows []Consent
	err := s.db.WithContext(ctx).
		Where("record_hash = ? AND owner_address = ?", hash.String(), owner.String()).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		s.logger.Error("consent list query failed", zap.String("record_hash", hash.String()), zap.Error(err))
		return nil, fmt.Errorf("consent: list query failed: %w", err)
	}
	return rows, nil
}
